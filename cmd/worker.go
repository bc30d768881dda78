package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pirateq/internal/config"
	"pirateq/internal/logger"
	"pirateq/internal/pirate"
)

var (
	workerConfigPath string
	workerBroker     string
	workerIdentity   bool
	workerFailOdds   int
)

// demoHandler is the worker's user-supplied task logic for this CLI: it
// replies with the request text prefixed by "2x" and, when failOdds > 0,
// injects synthetic failures at roughly a 1-in-failOdds rate. The
// random source is injected and held on the handler instance, never a
// package-level generator, so multiple workers in one process don't
// share randomness.
type demoHandler struct {
	worker   *pirate.Worker
	rng      *rand.Rand
	failOdds int
}

func newDemoHandler(failOdds int, rng *rand.Rand) *demoHandler {
	return &demoHandler{
		rng:      rng,
		failOdds: failOdds,
	}
}

func (h *demoHandler) Handle(request []byte) bool {
	reject := h.failOdds > 0 && h.rng.Intn(h.failOdds) == 0
	go func() {
		if reject {
			h.worker.TaskDone(nil, false)
			return
		}
		reply := fmt.Sprintf("2x%s", string(request))
		h.worker.TaskDone([]byte(reply), true)
	}()
	return true
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a worker endpoint",
	Long: `The worker connects to the broker backend, announces readiness,
answers each request with "2x" prepended to it, emits heartbeats, and reconnects with
exponential backoff if the broker goes silent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewDefault()
		if _, err := os.Stat(workerConfigPath); err == nil {
			loaded, err := config.Load(workerConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
		if workerBroker != "" {
			cfg.Worker.BrokerAddress = workerBroker
		}

		if !verbose {
			logger.SetSilentMode(cfg.Logging.Silent)
			logger.SetLevel(cfg.Logging.Level)
		}
		log := logger.New()

		identity := cfg.Worker.Identity
		if workerIdentity && identity == "" {
			identity = uuid.New().String()
		}

		handler := newDemoHandler(workerFailOdds, time.Now().UnixNano())
		w := pirate.NewWorker(pirate.WorkerConfig{
			BrokerAddress: cfg.Worker.BrokerAddress,
			Identity:      identity,
		}, handler)
		handler.worker = w

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Str("broker", cfg.Worker.BrokerAddress).Msg("worker running, press ctrl+c to stop")
		return w.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().StringVarP(&workerConfigPath, "config", "c", "pirateq.yml", "path to configuration file")
	workerCmd.Flags().StringVar(&workerBroker, "broker", "", "broker backend address (overrides config)")
	workerCmd.Flags().BoolVar(&workerIdentity, "uuid-identity", false, "assign an explicit uuid identity instead of a transport-assigned one")
	workerCmd.Flags().IntVar(&workerFailOdds, "fail-odds", 0, "inject a synthetic failure roughly 1 in N tasks (0 disables)")
}
