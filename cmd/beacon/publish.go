package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish [TOPIC PAYLOAD]",
	Short: "Push events to a running server",
	Long: `Push events through POST /events, bypassing the backend poll. The server
must have push_token configured.

Examples:
  # Publish one event
  beacon publish system_alerts '{"level":"warn","msg":"disk"}' --token $TOKEN

  # Publish a JSON array of {topic, payload} records
  beacon publish -f events.json --token $TOKEN`,
	Args: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		file, _ := cmd.Flags().GetString("file")

		records, err := readRecords(file, args)
		if err != nil {
			return err
		}

		result, err := client.Publish(cmd.Context(), url, token, records)
		if err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Accepted %d of %d events\n", result.Accepted, len(records))
		for _, r := range result.Rejected {
			fmt.Fprintf(cmd.OutOrStdout(), "  #%d rejected: %s (%s)\n", r.Index, r.Message, r.Code)
		}
		if len(result.Rejected) > 0 {
			return fmt.Errorf("%d events rejected", len(result.Rejected))
		}
		return nil
	},
}

func init() {
	publishCmd.Flags().String("url", "http://localhost:6001", "Gateway base URL")
	publishCmd.Flags().String("token", "", "Push token")
	publishCmd.Flags().StringP("file", "f", "", "JSON file holding an array of {topic, payload}")
}

func readRecords(file string, args []string) ([]types.PushRecord, error) {
	if file == "" {
		if !json.Valid([]byte(args[1])) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return []types.PushRecord{{Topic: args[0], Payload: json.RawMessage(args[1])}}, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var records []types.PushRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return records, nil
}
