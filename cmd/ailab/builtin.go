package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/ailab/internal/training"
	"github.com/animus-labs/ailab/internal/training/dataset"
	"github.com/spf13/cobra"
)

func builtinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builtin",
		Short: "manage built-in datasets",
	}

	var name, dir string
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "download built-in datasets from their public sources into a directory that overrides the bundled copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cliLogger()
			if err != nil {
				return err
			}
			if strings.TrimSpace(dir) == "" {
				settings, err := training.SettingsFromEnv()
				if err != nil {
					return err
				}
				dir = settings.BuiltinDataDir
			}
			client := &http.Client{Timeout: 2 * time.Minute}
			return fetchBuiltins(cmd.Context(), cmd.OutOrStdout(), logger, dataset.Catalog{Dir: dir}, client, name)
		},
	}
	fetch.Flags().StringVar(&name, "name", "", "dataset to fetch (default: all)")
	fetch.Flags().StringVar(&dir, "dir", "", "override AILAB_BUILTIN_DATA_DIR")
	cmd.AddCommand(fetch)
	return cmd
}

// fetchBuiltins provisions name, or every downloadable dataset when name is
// empty, and prints one installed path per line.
func fetchBuiltins(ctx context.Context, out io.Writer, logger *slog.Logger, catalog dataset.Catalog, client *http.Client, name string) error {
	var names []string
	if name = strings.TrimSpace(name); name != "" {
		canonical, ok := training.CanonicalBuiltin(name)
		if !ok {
			return fmt.Errorf("unknown builtin dataset: %s", name)
		}
		if _, ok := dataset.SourceFor(canonical); !ok {
			fmt.Fprintf(out, "%s is built in\n", canonical)
			return nil
		}
		names = []string{canonical}
	} else {
		for _, src := range dataset.Sources() {
			names = append(names, src.Name)
		}
	}

	for _, n := range names {
		path, err := catalog.Provision(ctx, client, n)
		if err != nil {
			return err
		}
		logger.Info("builtin dataset installed", "name", n, "path", path)
		fmt.Fprintln(out, path)
	}
	return nil
}
