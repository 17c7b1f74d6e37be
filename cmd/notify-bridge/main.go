package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/notify-bridge/internal/attachment"
	"github.com/breeze-rmm/notify-bridge/internal/bridge"
	"github.com/breeze-rmm/notify-bridge/internal/config"
	"github.com/breeze-rmm/notify-bridge/internal/health"
	"github.com/breeze-rmm/notify-bridge/internal/httputil"
	"github.com/breeze-rmm/notify-bridge/internal/logging"
	"github.com/breeze-rmm/notify-bridge/internal/notify"
	"github.com/breeze-rmm/notify-bridge/internal/websocket"
)

var log = logging.L("main")

var (
	version = "0.1.0"
	cfgFile string
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:           "notify-bridge",
	Short:         "Desktop notification bridge",
	Long:          `notify-bridge shows desktop notifications for a local chat client and reports the user's replies back over a WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notify-bridge v%s\n", version)
	},
}

var configWrite bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if configWrite {
			path, err := config.SaveTo(cfg, cfgFile)
			if err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		}
		data, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/notify-bridge/notify-bridge.yaml)")
	configCmd.Flags().BoolVar(&configWrite, "write", false, "write the effective config to the config file instead of printing it")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config. Fatal validation problems are
// joined into the returned error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if result := cfg.ValidateTiered(); result.HasFatals() {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(result.Fatals...))
	}
	return cfg, nil
}

func runBridge() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, closer, err := logging.Output(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closer.Close()
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)

	log.Info("starting notify-bridge", "version", version, "listen", cfg.ListenAddr)

	notifier, err := notify.New(cfg.AppName)
	if err != nil {
		return fmt.Errorf("notification backend: %w", err)
	}
	defer notifier.Close()

	monitor := health.NewMonitor()
	svc, err := newService(cfg, notifier, monitor)
	if err != nil {
		return err
	}

	srv := websocket.NewServer(websocket.Config{
		Addr:           cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxConnections: cfg.MaxConnections,
		SendQueueSize:  cfg.SendQueueSize,
		MetricsEnabled: cfg.MetricsEnabled,
	}, svc, monitor)
	if err := srv.Start(); err != nil {
		svc.Shutdown(context.Background())
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown incomplete", logging.KeyError, err)
	}
	svc.Shutdown(ctx)
	log.Info("notify-bridge stopped")
	return nil
}

// newService wires the pipeline from cfg.
func newService(cfg *config.Config, notifier notify.Notifier, monitor *health.Monitor) (*bridge.Service, error) {
	retry := httputil.DefaultRetryConfig()
	retry.MaxRetries = cfg.Attachments.FetchRetries

	fetcher := httputil.NewFetcher(&http.Client{}, httputil.FetchConfig{
		Timeout:   time.Duration(cfg.Attachments.FetchTimeoutSeconds) * time.Second,
		MaxBytes:  cfg.Attachments.MaxBytes,
		Retry:     retry,
		UserAgent: "notify-bridge/" + version,
	})

	return bridge.New(bridge.Options{
		Attachments: attachment.Options{
			StagingDir:   cfg.Attachments.StagingDir,
			CacheDir:     cfg.Attachments.CacheDir,
			MaxDimension: cfg.Attachments.MaxDimension,
		},
		OnFetchFailed: bridge.FailurePolicy(cfg.Attachments.OnFailure),
		Workers:       cfg.PipelineWorkers,
		QueueSize:     cfg.PipelineQueueSize,
	}, notifier, fetcher, monitor)
}
