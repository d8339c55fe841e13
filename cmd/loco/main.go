// loco estimates the raw packet-forwarding capacity of a network path
// using active packet-pair/packet-train dispersion, coordinated with a
// cooperating remote daemon over a TCP control channel and measured over
// a UDP channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/loco/internal/config"
	"github.com/dantte-lp/loco/internal/engine"
	"github.com/dantte-lp/loco/internal/format"
	"github.com/dantte-lp/loco/internal/metrics"
	"github.com/dantte-lp/loco/internal/version"
)

const banner = `
   .' ___
  ][__]_[  loco %s
 (____|_|
 /oo-OOOO
`

var errMixedModes = errors.New("cannot mix online (-h) and offline (-r) parameters")
var errNoOperatingMode = errors.New("no operating mode given: pass -h <hostname> or -r <file>")

// flags bound directly to the cobra command, mirroring the package-level
// var idiom used for CLI flag registration.
var (
	flagPort        int
	flagHost        string
	flagInterface   string
	flagQuick       bool
	flagInputPath   string
	flagOutputPath  string
	flagBinWidth    float64
	flagFormat      string
	flagConfigPath  string
	flagMetricsAddr string
	flagVerbose     bool
	flagVersion     bool
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "FATAL:", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loco",
		Short: "Active packet-pair/packet-train bandwidth capacity estimator",
		Long: fmt.Sprintf(strings.TrimPrefix(banner, "\n"), version.Version) + "\n" +
			"loco coordinates with a remote daemon over a TCP control channel\n" +
			"and measures dispersion over a UDP channel to estimate the raw\n" +
			"capacity of the path between them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runMeasurement,
	}

	// Register the help flag under '?' instead of cobra's default 'h',
	// freeing '-h' for --host.
	cmd.Flags().BoolP("help", "?", false, "show help")

	cmd.Flags().BoolVarP(&flagVersion, "version", "V", false, "print version and exit")
	cmd.Flags().IntVarP(&flagPort, "port", "p", 0, "control TCP port (default from constants)")
	cmd.Flags().StringVarP(&flagHost, "host", "h", "", "daemon hostname; enables online mode")
	cmd.Flags().StringVarP(&flagInterface, "interface", "I", "", "bind source address (interface name or IPv4 literal)")
	cmd.Flags().BoolVarP(&flagQuick, "quick", "q", false, "accept the preliminary result without running phases 1 and 2")
	cmd.Flags().StringVarP(&flagInputPath, "read", "r", "", "offline input: replay a persisted CSV sample set")
	cmd.Flags().StringVarP(&flagOutputPath, "write", "w", "", "offline output: persist collected samples to this CSV path")
	cmd.Flags().Float64VarP(&flagBinWidth, "bin-width", "b", 0, "bin width in Mbps for offline mode")
	cmd.Flags().StringVarP(&flagFormat, "format", "f", format.Default, "output format string; see format tokens below")
	cmd.Flags().StringVarP(&flagConfigPath, "config", "c", "", "optional YAML constants-override file")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "optional HTTP listen address for Prometheus metrics")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "raise log level to debug")

	cmd.SetUsageTemplate(usageTemplate)

	return cmd
}

const usageTemplate = `{{.Long}}

Format tokens (for -f/--format):
  %be  bandwidth estimated [Mbps]      %bl  bandwidth lower bound [Mbps]
  %am  assessment mode (numeric)       %bu  bandwidth upper bound [Mbps]
  %AM  assessment mode (literal)       %bw  bandwidth bin width [Mbps]
  %pd  packet dispersion minimum [us]  %pm  preliminary mean
  %ul  UDP kernel/user latency [us]    %ps  preliminary standard deviation
  %lt  TCP control channel latency [us]

Usage:
  {{.UseLine}}

Flags:
{{.LocalFlags.FlagUsages}}
`

func runMeasurement(cmd *cobra.Command, _ []string) error {
	if flagVersion {
		fmt.Fprintln(os.Stdout, version.Full("loco"))
		return nil
	}

	network := flagHost != ""
	offline := flagInputPath != ""
	switch {
	case network && offline:
		return errMixedModes
	case !network && !offline:
		return errNoOperatingMode
	}

	if err := format.Validate(flagFormat); err != nil {
		return fmt.Errorf("invalid -f/--format: %w", err)
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	constants, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load constants: %w", err)
	}

	port := flagPort
	if port == 0 {
		port = constants.DefaultControlPort
	}

	var bindAddr netip.Addr
	bindDevice := flagInterface
	if flagInterface != "" {
		if addr, parseErr := netip.ParseAddr(flagInterface); parseErr == nil {
			bindAddr, bindDevice = addr, ""
		}
	}

	if flagOutputPath == "" && network {
		flagOutputPath = "/tmp/loco.csv"
	}

	cfg := engine.Config{
		Host:              flagHost,
		ControlPort:       port,
		BindDevice:        bindDevice,
		BindAddr:          bindAddr,
		Quick:             flagQuick,
		Network:           network,
		OfflineInputPath:  flagInputPath,
		OfflineOutputPath: flagOutputPath,
		BinWidthOverride:  flagBinWidth,
		Format:            flagFormat,
		Constants:         constants,
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)
	defer stop()

	session := engine.NewSession(cfg, logger)
	session.SetMetrics(collector)

	g, gCtx := errgroup.WithContext(ctx)

	if flagMetricsAddr != "" {
		metricsSrv := newMetricsServer(flagMetricsAddr, reg)
		g.Go(func() error {
			return listenAndServeMetrics(gCtx, metricsSrv, flagMetricsAddr, logger)
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	progress := make(chan os.Signal, 1)
	signal.Notify(progress, syscall.SIGUSR1)
	g.Go(func() error {
		defer signal.Stop(progress)
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-progress:
				pct, state, estimated := session.Progress()
				fmt.Fprintf(os.Stderr, "%d%%,%s,%.4f\n", pct, state, estimated)
			}
		}
	})

	notifyReady(logger)

	var result engine.Result
	g.Go(func() error {
		var runErr error
		result, runErr = session.Run(gCtx)
		stop()
		return runErr
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("measurement session: %w", err)
	}

	collector.SetResult(result.Estimated, result.BinWidth, int(result.Assessment))

	line, err := format.Write(flagFormat, engineResultToFormatValues(result))
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	fmt.Fprint(os.Stdout, line)

	return nil
}

func engineResultToFormatValues(r engine.Result) format.Values {
	return format.Values{
		BandwidthEstimated:  r.Estimated,
		AssessmentNumeric:   int(r.Assessment),
		AssessmentLiteral:   r.Assessment.String(),
		BandwidthLo:         r.Lo,
		BandwidthHi:         r.Hi,
		BinWidth:            r.BinWidth,
		PacketDispersionMin: r.PacketDispersionDeltaMin,
		UDPLatency:          r.UDPLatencyMean,
		PrelimMean:          r.PrelimMean,
		PrelimStd:           r.PrelimStd,
		LatencyTCP:          float64(r.RTT.Microseconds()),
	}
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServeMetrics(ctx context.Context, srv *http.Server, addr string, logger *slog.Logger) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Info("metrics server listening", slog.String("addr", addr))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics on %s: %w", addr, err)
	}
	return nil
}

// notifyReady sends READY=1 to systemd when run as a unit; a no-op
// otherwise.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Debug("systemd notify failed", slog.Any("error", err))
		return
	}
	if sent {
		logger.Debug("notified systemd: READY")
	}
}
