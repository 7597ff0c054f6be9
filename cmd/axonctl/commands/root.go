// Package commands implements the axonctl command tree.
package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/pkg/config"
	"github.com/axonlink/axonlink/pkg/driver"
	"github.com/axonlink/axonlink/pkg/metrics"
	promlink "github.com/axonlink/axonlink/pkg/metrics/prometheus"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

var (
	cfgPath string
	cfg     *config.Config

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo receives the ldflags build stamp from main.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

var rootCmd = &cobra.Command{
	Use:   "axonctl",
	Short: "AxonLink fieldbus diagnostic tool",
	Long: `axonctl brings fieldbus networks online and exercises them from the
command line: node inventory, parameter access, motion stops, trace
capture, and live event monitoring.

Configuration is read from --config, $XDG_CONFIG_HOME/axonlink/config.yaml,
or environment variables with the AXONLINK_ prefix.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return logger.Init(logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
	},
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Path to config file (default: $XDG_CONFIG_HOME/axonlink/config.yaml)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(paramCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// openDriver builds a Driver from the loaded configuration and brings
// every configured network online.
func openDriver(resetNodes bool) (*driver.Driver, error) {
	if len(cfg.Controllers) == 0 {
		return nil, fmt.Errorf("no controllers configured; add a controllers entry to %s", config.DefaultPath())
	}

	linkCfg := toLinkConfig(cfg)

	opts := driver.Options{Link: linkCfg}
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		opts.MetricsFor = promlink.NewLinkMetrics
	}

	specs := make([]driver.ControllerSpec, 0, len(cfg.Controllers))
	for _, c := range cfg.Controllers {
		specs = append(specs, driver.ControllerSpec{Port: c.Port, Rate: c.Rate})
	}

	d := driver.New(opts)
	if err := d.InitNets(resetNodes, specs); err != nil {
		d.Shutdown()
		return nil, err
	}
	return d, nil
}

// parseAddr parses a "net:node" argument.
func parseAddr(s string) (multiaddr.Addr, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return multiaddr.Unknown, fmt.Errorf("address %q is not net:node", s)
	}
	net, err := strconv.Atoi(parts[0])
	if err != nil || net < 0 {
		return multiaddr.Unknown, fmt.Errorf("bad network index in %q", s)
	}
	node, err := strconv.Atoi(parts[1])
	if err != nil || node < 0 || node >= multiaddr.MaxNodesPerNet {
		return multiaddr.Unknown, fmt.Errorf("bad node address in %q", s)
	}
	return multiaddr.New(net, node), nil
}
