package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/ailab/internal/app"
	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/platform/objectstore"
	"github.com/animus-labs/ailab/internal/service/runs"
	"github.com/animus-labs/ailab/internal/training"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type trainOptions struct {
	ConfigPath  string
	RunID       string
	RegistryDir string
}

func trainCmd() *cobra.Command {
	var opts trainOptions
	cmd := &cobra.Command{
		Use:   "train",
		Short: "train a model from a JSON or YAML configuration and print the run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cliLogger()
			if err != nil {
				return err
			}
			return runTrain(cmd.Context(), cmd.OutOrStdout(), logger, opts)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "training configuration file (.json, .yaml)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id used to name the saved model (default: random)")
	cmd.Flags().StringVar(&opts.RegistryDir, "registry-dir", "", "override AILAB_REGISTRY_DIR")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

type runOutput struct {
	RunID   string           `json:"run_id"`
	Status  domain.RunStatus `json:"status"`
	Metrics domain.Value     `json:"metrics"`
	Error   *string          `json:"error"`
}

// runTrain executes one run against in-memory stores through the same
// lifecycle the services use. A FAILED run is printed and returned as an error.
func runTrain(ctx context.Context, out io.Writer, logger *slog.Logger, opts trainOptions) error {
	params, err := training.LoadConfigFile(opts.ConfigPath)
	if err != nil {
		return err
	}
	settings, err := training.SettingsFromEnv()
	if err != nil {
		return err
	}
	if dir := strings.TrimSpace(opts.RegistryDir); dir != "" {
		settings.RegistryDir = dir
	}
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return err
	}
	storage, err := app.OpenStorage(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("object store unavailable: %w", err)
	}
	tr, err := app.NewTrainer(settings, storage, logger)
	if err != nil {
		return err
	}

	stores := app.MemoryStores()
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	now := time.Now().UTC()
	if err := stores.Runs.CreateRun(ctx, domain.Run{
		ID:           runID,
		ExperimentID: "local",
		Name:         "cli",
		Status:       domain.RunStatusQueued,
		Params:       params,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return err
	}

	svc := runs.New(stores.Runs, stores.Datasets, nil, runs.UseTrainer(tr), logger)
	run, err := svc.StartSync(ctx, runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runOutput{RunID: run.ID, Status: run.Status, Metrics: run.Metrics, Error: run.Error}); err != nil {
		return err
	}
	if run.Status == domain.RunStatusFailed {
		return fmt.Errorf("run %s failed", run.ID)
	}
	return nil
}
