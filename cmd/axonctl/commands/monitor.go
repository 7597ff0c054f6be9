package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/internal/telemetry"
	"github.com/axonlink/axonlink/pkg/config"
	"github.com/axonlink/axonlink/pkg/driver"
	"github.com/axonlink/axonlink/pkg/metrics"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stay online and stream bus events",
	Long: `Monitor brings the configured networks online and prints every
asynchronous event as it happens: attentions, node errors, parameter
changes, and lifecycle transitions. With metrics enabled the Prometheus
endpoint serves while the monitor runs; telemetry and profiling follow
the config file.

Log level and trace capture follow live edits to the config file.

Press Ctrl-C to stop.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// tracing + profiling per config
	shutdownTrace, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "axonlink",
		ServiceVersion: buildVersion,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	stopProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "axonlink",
		ServiceVersion: buildVersion,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
	})
	if err != nil {
		return err
	}
	defer func() { _ = stopProfiling() }()

	d, err := openDriver(false)
	if err != nil {
		return err
	}
	defer d.Shutdown()

	d.SetCallbacks(driver.Callbacks{
		OnAttention: func(rec link.AttnRecord) {
			fmt.Printf("%s  attn   %s bits=%#08x\n",
				rec.When.Format("15:04:05.000"), rec.Addr, rec.Bits)
		},
		OnError: func(rec link.ErrRecord) {
			fmt.Printf("%s  error  %s %s\n",
				time.Now().Format("15:04:05.000"), rec.Addr, rec.Code)
		},
		OnNetChange: func(net int, change link.NetChange) {
			fmt.Printf("%s  net    %d -> %s\n",
				time.Now().Format("15:04:05.000"), net, change)
		},
		OnParamChange: func(chg link.ParamChange) {
			fmt.Printf("%s  param  %s bank=%d index=%d\n",
				time.Now().Format("15:04:05.000"), chg.Addr, chg.Bank, chg.Index)
		},
	})

	// live log-level and trace toggles from the config file
	if err := config.Watch(cfgPath, func(fresh *config.Config) {
		logger.SetLevel(fresh.Logging.Level)
		for net := 0; net < d.NetCount(); net++ {
			_ = d.TraceEnable(net, fresh.Link.TraceEnabled)
		}
		logger.Info("configuration reloaded")
	}); err != nil {
		// watching is best-effort; a missing file just means no reloads
		logger.Debug("config watch unavailable", logger.KeyError, err.Error())
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port)
	}

	fmt.Printf("monitoring %d network(s); Ctrl-C to stop\n", d.NetCount())
	printSummary(d)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nshutting down")
	return nil
}

func printSummary(d *driver.Driver) {
	for net := 0; net < d.NetCount(); net++ {
		rate, _ := d.NetRate(net)
		count := mustCount(d, net)
		fmt.Printf("  net %d: %d node(s) at %d bits/s\n", net, count, rate)
		for node := 0; node < count; node++ {
			id, err := d.UserID(multiaddr.New(net, node))
			if err != nil || id == "" {
				continue
			}
			fmt.Printf("    node %d: %q\n", node, id)
		}
	}
}

func serveMetrics(port int) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("metrics listening", logger.KeyPort, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", logger.KeyError, err.Error())
	}
}
