package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"munind.sh/internal/config"
)

var (
	// Color functions
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type rootOptions struct {
	configFile string
	noColor    bool
}

// configFlags maps command line flags onto configuration keys
var configFlags = map[string]string{
	"listen":            "listen",
	"hostname":          "hostname",
	"idle-timeout":      "idle_timeout",
	"max-connections":   "max_connections",
	"accept-rate":       "accept_rate",
	"accept-burst":      "accept_burst",
	"max-line-length":   "max_line_length",
	"dirtyconfig-scope": "dirtyconfig_scope",
	"disk-path":         "disk_path",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"log-output":        "log.output",
	"admin-listen":      "admin.listen",
	"mdns":              "mdns.enabled",
}

// NewRootCmd builds the munind command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "munind",
		Short: "munind - munin node serving host statistics",
		Long: `munind answers munin master polls on TCP port 4949 with CPU, load,
memory, disk, process, uptime and network graphs for the local host.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is /etc/munind/munind.yaml or ./munind.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newProbeCmd(),
		newConfigCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// addConfigFlags registers the flags that override configuration keys
func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("listen", config.DefaultListen, "address to serve the munin protocol on")
	flags.String("hostname", "", "node name reported to collectors (default is the system hostname)")
	flags.Duration("idle-timeout", 5*time.Minute, "close connections idle for this long, 0 disables")
	flags.Int("max-connections", 64, "maximum concurrent connections, 0 is unlimited")
	flags.Float64("accept-rate", 0, "new connections accepted per second, 0 is unlimited")
	flags.Int("accept-burst", 16, "burst allowance for --accept-rate")
	flags.Int("max-line-length", 4096, "maximum command line length in bytes")
	flags.String("dirtyconfig-scope", config.ScopeSession, "whether config-sent state is tracked per session or per process")
	flags.String("disk-path", "/", "filesystem reported by the disk-usage graph")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("log-output", "stderr", "log destination (stderr, stdout or a file path)")
	flags.String("admin-listen", "", "address for the /metrics and /healthz listener, empty disables")
	flags.Bool("mdns", false, "advertise the node over mDNS")
}

// loadConfig binds the command's flags and loads the effective configuration
func loadConfig(cmd *cobra.Command, configFile string) (*config.Config, error) {
	v := viper.New()
	for flag, key := range configFlags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return config.Load(v, configFile)
}
