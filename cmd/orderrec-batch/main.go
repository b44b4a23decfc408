// Command orderrec-batch runs the batch jobs once and exits: feature
// derivation, segmentation with training, and API key management. The exit
// status is 0 on success, 2 for configuration errors, 3 when the data does
// not allow the run and 1 otherwise.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"orderrec/internal/apperr"
	"orderrec/internal/config"
	"orderrec/internal/db"
	"orderrec/internal/logging"
	"orderrec/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	var a app
	err := newRootCmd(os.Stdout, os.Stderr, &a).ExecuteContext(ctx)
	stop()
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "orderrec-batch:", err)
	}
	os.Exit(apperr.ExitCode(err))
}

// app is the state shared by the subcommands once the root has loaded the
// configuration and opened the store.
type app struct {
	cfg    *config.Config
	store  *db.Store
	logger zerolog.Logger
}

// newRootCmd builds the command tree around a. The store a opens is closed
// after a successful run or a failed job; callers close it otherwise.
func newRootCmd(out, logOut io.Writer, a *app) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "orderrec-batch",
		Short:         "Run the order ledger batch jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv(config.ConfigPathEnvVar, configPath); err != nil {
					return apperr.Configuration("set config path: %v", err)
				}
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: logOut})
			a.store, err = db.Open(cfg, logging.Component(a.logger, "db"))
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (overrides "+config.ConfigPathEnvVar+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "derive",
			Short: "Merge the pending batch into the ledger and rebuild the feature table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Schedule.DeriveTimeout)
				defer cancel()
				rep, err := a.runner().RunFeatureDerivation(ctx)
				if err != nil {
					return a.fail("derive", err)
				}
				fmt.Fprintf(out, "batch_rows=%d accepted=%d duplicates=%d ledger_rows=%d customers=%d dropped=%v\n",
					rep.BatchRows, rep.Accepted, rep.Duplicates, rep.LedgerRows, rep.Customers, rep.Dropped)
				return nil
			},
		},
		&cobra.Command{
			Use:   "retrain",
			Short: "Fit a new segmentation, train per-cluster models and activate them",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Schedule.RetrainTimeout)
				defer cancel()
				gen, err := a.runner().RunSegmentationAndTraining(ctx)
				if err != nil {
					return a.fail("retrain", err)
				}
				fmt.Fprintf(out, "generation=%s clusters=%d sizes=%v model_less=%v\n",
					gen.ID, gen.ClusterCount, gen.ClusterSizes(), gen.ModelLess)
				return nil
			},
		},
		&cobra.Command{
			Use:   "create-key NAME KEY",
			Short: "Store a named bearer key for the order and admin endpoints",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.CreateAPIKey(cmd.Context(), args[0], args[1]); err != nil {
					return a.fail("create-key", err)
				}
				fmt.Fprintf(out, "created key %q\n", args[0])
				return nil
			},
		},
	)
	return root
}

func (a *app) runner() *pipeline.Runner {
	return pipeline.NewRunner(a.store, a.cfg, nil, nil, logging.Component(a.logger, "pipeline"))
}

// fail logs a job error and closes the store, since cobra skips the post-run
// hooks when RunE fails.
func (a *app) fail(job string, err error) error {
	a.logger.Error().Err(err).Str("job", job).Int("exit_code", apperr.ExitCode(err)).Msg("job failed")
	if cerr := a.close(); cerr != nil {
		a.logger.Warn().Err(cerr).Msg("closing store failed")
	}
	return err
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
