package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch TOPIC...",
	Short: "Subscribe to topics and print events as they arrive",
	Long: `Subscribe to one or more topics and print every delivered event as one
JSON line.

Examples:
  # Follow device health
  beacon watch device_health

  # Replay everything stored, then follow
  beacon watch --since 0 publisher_status system_alerts`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")

		var since *uint64
		if cmd.Flags().Changed("since") {
			v, _ := cmd.Flags().GetUint64("since")
			since = &v
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := client.Dial(ctx, url, token)
		if err != nil {
			return err
		}
		defer c.Close()

		for _, topic := range args {
			if err := c.Subscribe(topic, since); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		frames, errs := c.Frames(ctx)
		for frame := range frames {
			switch frame.Type {
			case types.FrameBatch:
				for _, e := range frame.Events {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
			case types.FrameError:
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %s\n", frame.Code, frame.Message)
			case types.FrameAck:
				if frame.Topic != nil && frame.LastSequence != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (last seq %d)\n", frame.Action, frame.Topic, *frame.LastSequence)
				}
			}
		}
		return <-errs
	},
}

func init() {
	watchCmd.Flags().String("url", "ws://localhost:6001/ws", "WebSocket URL")
	watchCmd.Flags().String("token", "", "Bearer token for the handshake")
	watchCmd.Flags().Uint64("since", 0, "Replay stored events with a higher sequence")
}
