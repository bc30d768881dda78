package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pirateq/internal/config"
	"pirateq/internal/eventlog"
	"pirateq/internal/httpapi"
	"pirateq/internal/logger"
	"pirateq/internal/pirate"
)

var (
	brokerConfigPath string
	brokerFrontend   string
	brokerBackend    string
	brokerHTTPAddr   string
	brokerHTTP       bool
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Start the broker dispatcher",
	Long: `The broker accepts client requests on its frontend, dispatches them to
the least-recently-used available worker on its backend, relays replies
back to the originating client, and purges workers that miss their
heartbeats.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewDefault()
		if _, err := os.Stat(brokerConfigPath); err == nil {
			loaded, err := config.Load(brokerConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
		if brokerFrontend != "" {
			cfg.Broker.FrontendAddress = brokerFrontend
		}
		if brokerBackend != "" {
			cfg.Broker.BackendAddress = brokerBackend
		}
		if brokerHTTPAddr != "" {
			cfg.HTTP.Address = brokerHTTPAddr
		}
		if brokerHTTP {
			cfg.HTTP.Enabled = true
		}

		if !verbose {
			logger.SetSilentMode(cfg.Logging.Silent)
			logger.SetLevel(cfg.Logging.Level)
		}
		log := logger.New()

		events := eventlog.New(cfg.Broker.EventLogCapacity)

		broker := pirate.NewBroker(pirate.BrokerConfig{
			FrontendAddress:   cfg.Broker.FrontendAddress,
			BackendAddress:    cfg.Broker.BackendAddress,
			HeartbeatInterval: cfg.Broker.HeartbeatInterval,
			OnEvent: func(e pirate.Event) {
				events.Append(string(e.Kind), e.WorkerID, e.At)
			},
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return broker.Run(groupCtx)
		})

		if cfg.HTTP.Enabled {
			api := httpapi.New(cfg.HTTP.Address, broker, events)
			group.Go(func() error {
				return api.Run(groupCtx)
			})
			log.Info().Str("address", cfg.HTTP.Address).Msg("broker http api enabled")
		}

		log.Info().
			Str("frontend", cfg.Broker.FrontendAddress).
			Str("backend", cfg.Broker.BackendAddress).
			Msg("broker running, press ctrl+c to stop")

		return group.Wait()
	},
}

func init() {
	brokerCmd.Flags().StringVarP(&brokerConfigPath, "config", "c", "pirateq.yml", "path to configuration file")
	brokerCmd.Flags().StringVar(&brokerFrontend, "frontend", "", "frontend bind address (overrides config)")
	brokerCmd.Flags().StringVar(&brokerBackend, "backend", "", "backend bind address (overrides config)")
	brokerCmd.Flags().StringVar(&brokerHTTPAddr, "http-addr", "", "operational HTTP API address (overrides config)")
	brokerCmd.Flags().BoolVar(&brokerHTTP, "http", false, "enable the operational HTTP API")
}
