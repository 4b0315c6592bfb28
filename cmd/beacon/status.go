package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/status"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running server's status snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := client.FetchStatus(cmd.Context(), addr)
		if err != nil {
			return fmt.Errorf("failed to fetch status: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		printStatus(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("addr", "http://localhost:6002", "Status server URL")
	statusCmd.Flags().Bool("json", false, "Print the raw JSON snapshot")
}

func printStatus(out io.Writer, snap status.Snapshot) {
	if snap.Fatal != "" {
		fmt.Fprintf(out, "FATAL: %s\n\n", snap.Fatal)
	}
	fmt.Fprintf(out, "Uptime:       %s\n", snap.Uptime)
	fmt.Fprintf(out, "Connections:  %d\n", snap.Connections)
	fmt.Fprintf(out, "Queued:       %d (max %d)\n", snap.Queues.TotalDepth, snap.Queues.MaxDepth)
	fmt.Fprintf(out, "Events/sec:   %.2f (total %d)\n", snap.EventsPerSecond, snap.TotalEvents)
	if snap.Poll != nil {
		fmt.Fprintf(out, "Poll cursor:  %d (failures %d)\n", snap.Poll.Cursor, snap.Poll.ConsecutiveFailures)
		if snap.Poll.LastError != "" {
			fmt.Fprintf(out, "Poll error:   %s\n", snap.Poll.LastError)
		}
	}
	fmt.Fprintln(out)

	names := make([]string, 0, len(snap.Topics))
	for name := range snap.Topics {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tENABLED\tSUBSCRIBERS\tSTORED\tLAST SEQ")
	for _, name := range names {
		t := snap.Topics[name]
		fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%d\n", name, t.Enabled, t.Subscribers, t.Stored, t.LastSeq)
	}
	_ = w.Flush()
}
