package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keagan/artcannon/internal/config"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/logging"
	"github.com/keagan/artcannon/internal/metrics"
)

var (
	cfgFile     string
	verbose     bool
	jsonLogs    bool
	metricsAddr string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		failure(err).Msg("command failed")
		os.Exit(1)
	}
}

// failure logs a classified error with the details operators act on
func failure(err error) *zerolog.Event {
	ev := log.Error().Err(err).Str("reason", string(errs.KindOf(err)))
	if op := errs.Op(err); op != "" {
		ev = ev.Str("op", op)
	}
	for _, key := range []string{"resource", "start", "end"} {
		if v, ok := errs.Detail(err, key); ok {
			ev = ev.Interface(key, v)
		}
	}
	return ev
}

var rootCmd = &cobra.Command{
	Use:           "artcannon",
	Short:         "artcannon - artistic video effects engine",
	Long:          "Applies pencil, cartoon, oil painting, watercolor, anime and vintage film looks to videos, chunk by chunk.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		logging.Init(logging.Options{Verbose: verbose, JSON: jsonLogs})

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if metricsAddr != "" {
			cfg.Metrics.Addr = metricsAddr
		}
		if cfg.Metrics.Addr != "" {
			metrics.StartServer(cfg.Metrics.Addr, logging.WithComponent("metrics"))
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		log.Debug().Str("output_dir", cfg.OutputDir).Msg("configuration loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON lines")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(healthCmd)
}
