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
	"pirateq/internal/logger"
	"pirateq/internal/pirate"
)

var (
	clientConfigPath string
	clientBroker     string
	clientRetries    int
	clientRequest    string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Submit a continuous stream of requests through a client endpoint",
	Long: `The client connects to the broker frontend and submits requests back to
back: each completion callback immediately submits the next one, the same
task-done-driven cadence as the original Paranoid Pirate client, retrying
each on explicit broker-side failure up to the configured retry budget (or
forever, with --retries -1), until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewDefault()
		if _, err := os.Stat(clientConfigPath); err == nil {
			loaded, err := config.Load(clientConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
		if clientBroker != "" {
			cfg.Client.BrokerAddress = clientBroker
		}
		retries := cfg.Client.DefaultRetries
		if cmd.Flags().Changed("retries") {
			retries = clientRetries
		}

		if !verbose {
			logger.SetSilentMode(cfg.Logging.Silent)
			logger.SetLevel(cfg.Logging.Level)
		}
		log := logger.New()

		c := pirate.NewClient(pirate.ClientConfig{
			BrokerAddress: cfg.Client.BrokerAddress,
			Identity:      cfg.Client.Identity,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return c.Run(groupCtx)
		})

		// submitNext mirrors the original client's task_done callback:
		// each completion, success or failure, immediately submits the
		// next task. It runs as its own goroutine per call since it is
		// invoked from inside the completion callback, which itself runs
		// on the client's event loop goroutine; calling Submit from there
		// directly would deadlock against that same loop.
		sequence := 0
		var submitNext func()
		submitNext = func() {
			if groupCtx.Err() != nil {
				return
			}
			sequence++
			task := fmt.Sprintf("%s-%d", clientRequest, sequence)
			cmd.Printf("submitting task %s\n", task)
			if !c.Submit([]byte(task), retries, func(success bool, reply []byte) {
				if success {
					log.Info().Str("task", task).Str("reply", string(reply)).Msg("task succeeded")
					cmd.Printf("task %s succeeded: %s\n", task, string(reply))
				} else {
					log.Warn().Str("task", task).Msg("task failed after exhausting retries")
					cmd.Printf("task %s failed\n", task)
				}
				go submitNext()
			}) {
				log.Error().Str("task", task).Msg("a request was already outstanding")
			}
		}

		group.Go(func() error {
			submitNext()
			<-groupCtx.Done()
			return nil
		})

		return group.Wait()
	},
}

func init() {
	clientCmd.Flags().StringVarP(&clientConfigPath, "config", "c", "pirateq.yml", "path to configuration file")
	clientCmd.Flags().StringVar(&clientBroker, "broker", "", "broker frontend address (overrides config)")
	clientCmd.Flags().IntVar(&clientRetries, "retries", 3, "retry budget, or -1 for unbounded")
	clientCmd.Flags().StringVar(&clientRequest, "request", "task", "task name prefix; each submission appends a sequence number")
}
