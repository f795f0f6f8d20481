package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/fiurin/tacd/internal/adc"
	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
	"github.com/fiurin/tacd/internal/digitalio"
	"github.com/fiurin/tacd/internal/labgrid"
	"github.com/fiurin/tacd/internal/network"
	"github.com/fiurin/tacd/internal/system"
	"github.com/fiurin/tacd/internal/temperatures"
	"github.com/fiurin/tacd/internal/web"
)

var (
	configPath string
	listenAddr string
	demoMode   bool
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tacd",
	Short: "LXA TAC system daemon",
	Long: `tacd is the system daemon of the LXA Test Automation Controller.

It samples the board's power and temperature sensors, switches the DUT
and IOBus power rails, tracks the network uplinks and manages the
labgrid exporter configuration. All state is published as retained
topics and served to the web dashboard over HTTP and websocket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tacd", system.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides the configuration)")
	rootCmd.Flags().BoolVar(&demoMode, "demo", false, "run against synthetic hardware")

	rootCmd.AddCommand(versionCmd)
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if demoMode {
		cfg.Hardware.DemoMode = true
	}

	logger.Info("starting tacd",
		zap.String("version", system.Version),
		zap.String("listen", cfg.Server.Listen),
		zap.Bool("demo", cfg.Hardware.DemoMode),
	)

	b := broker.New()
	system.Publish(b)

	adcs := adc.New(b, cfg, logger.Named("adc"))

	var setter digitalio.LineSetter
	if cfg.Hardware.DemoMode {
		setter = &digitalio.DemoSetter{Demo: adcs.Demo()}
	} else {
		setter = &digitalio.SysfsSetter{Dir: cfg.Hardware.GpioDir}
	}
	dio := digitalio.New(b, cfg, setter, logger.Named("digitalio"))

	temps := temperatures.New(b, cfg, logger.Named("temperatures"))

	net, err := network.New(b, cfg, logger.Named("network"))
	if err != nil {
		return fmt.Errorf("failed to set up network monitoring: %w", err)
	}

	lg, err := labgrid.New(b, cfg, logger.Named("labgrid"))
	if err != nil {
		return fmt.Errorf("failed to set up labgrid integration: %w", err)
	}

	srv, err := web.New(b, cfg, logger.Named("web"))
	if err != nil {
		return fmt.Errorf("failed to set up web server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return adcs.Run(ctx) })
	g.Go(func() error { return dio.Run(ctx) })
	g.Go(func() error { return temps.Run(ctx) })
	g.Go(func() error { return net.Run(ctx) })
	g.Go(func() error { return lg.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	err = shutdownErr(g.Wait())
	logger.Info("tacd stopped")
	return err
}

// shutdownErr filters the error a supervised run group returns once the
// signal context is cancelled. Every run loop reports ctx.Err() on a
// requested shutdown, which is not a failure.
func shutdownErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
