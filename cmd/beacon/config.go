package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addConfigFlags registers the overrides shared by serve and config print
func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("websocket-host", "", "WebSocket listen host")
	fs.Int("websocket-port", 0, "WebSocket listen port")
	fs.String("status-host", "", "Status listen host")
	fs.Int("status-port", 0, "Status listen port")
	fs.String("backend-endpoint", "", "Backend events URL to poll")
	fs.String("backend-token", "", "Bearer token sent to the backend")
	fs.Int("backend-poll-interval", 0, "Poll interval in milliseconds")
	fs.Int("max-events", 0, "Events retained per topic")
	fs.Int("event-ttl", 0, "Event lifetime in seconds")
	fs.Int("max-connections-per-ip", 0, "Concurrent connections allowed per client IP")
	fs.String("push-token", "", "Bearer token enabling POST /events")
	fs.String("auth-secret", "", "HS256 secret for subscriber tokens")
	fs.Bool("auth-required", false, "Reject subscribers without a token")
	fs.String("data-dir", "", "Directory for the persistent poll cursor")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.Bool("log-json", false, "Log in JSON format")
	fs.StringSlice("enabled-topics", nil, "Topics to enable; the rest are disabled")
}

// loadConfig builds the effective configuration: defaults, then the file,
// then BEACON_* variables, then explicitly set flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, cmd.Flags()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "websocket-host":
			cfg.WebSocketHost, err = fs.GetString(f.Name)
		case "websocket-port":
			cfg.WebSocketPort, err = fs.GetInt(f.Name)
		case "status-host":
			cfg.StatusHost, err = fs.GetString(f.Name)
		case "status-port":
			cfg.StatusPort, err = fs.GetInt(f.Name)
		case "backend-endpoint":
			cfg.BackendEndpoint, err = fs.GetString(f.Name)
		case "backend-token":
			cfg.BackendToken, err = fs.GetString(f.Name)
		case "backend-poll-interval":
			cfg.BackendPollInterval, err = fs.GetInt(f.Name)
		case "max-events":
			cfg.MaxEvents, err = fs.GetInt(f.Name)
		case "event-ttl":
			cfg.EventTTL, err = fs.GetInt(f.Name)
		case "max-connections-per-ip":
			cfg.MaxConnectionsPerIP, err = fs.GetInt(f.Name)
		case "push-token":
			cfg.PushToken, err = fs.GetString(f.Name)
		case "auth-secret":
			cfg.AuthSecret, err = fs.GetString(f.Name)
		case "auth-required":
			cfg.AuthRequired, err = fs.GetBool(f.Name)
		case "data-dir":
			cfg.DataDir, err = fs.GetString(f.Name)
		case "log-level":
			cfg.LogLevel, err = fs.GetString(f.Name)
		case "log-json":
			cfg.LogJSON, err = fs.GetBool(f.Name)
		case "enabled-topics":
			var names []string
			names, err = fs.GetStringSlice(f.Name)
			if err == nil {
				err = enableTopics(cfg, names)
			}
		}
	})
	return err
}

func enableTopics(cfg *config.Config, names []string) error {
	dataTypes := make(map[string]config.DataType, types.NumTopics)
	for _, t := range types.AllTopics() {
		dataTypes[t.String()] = config.DataType{Enabled: false}
	}
	for _, name := range names {
		topic, err := types.ParseTopic(strings.TrimSpace(name))
		if err != nil {
			return fmt.Errorf("invalid --enabled-topics: %w", err)
		}
		dataTypes[topic.String()] = config.DataType{Enabled: true}
	}
	cfg.DataTypes = dataTypes
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration serve would run with after applying the file,
BEACON_* environment variables and flags, in that order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configPrintCmd)
	addConfigFlags(configPrintCmd.Flags())
}
