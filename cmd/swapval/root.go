package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/swapval/internal/config"
	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/fixture"
	"github.com/animus-labs/swapval/internal/lineage"
	"github.com/animus-labs/swapval/internal/repo"
	"github.com/animus-labs/swapval/internal/repo/memory"
	"github.com/animus-labs/swapval/internal/service/runs"
)

type rootOptions struct {
	configPath string
	verbose    bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "swapval",
		Short:        "Value interest rate and cross currency swaps from YAML fixtures",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "pricing config YAML (defaults when empty)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "maximum time to wait for a valuation")

	root.AddCommand(newPriceCmd(opts), newHashCmd(), newVerifyCmd(opts))
	return root
}

func newPriceCmd(opts *rootOptions) *cobra.Command {
	var specPath, marketPath string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Run one valuation and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := valuate(cmd.Context(), opts, specPath, marketPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if v.status.State != domain.RunStateCompleted {
				_ = writeJSON(cmd.OutOrStdout(), v.status)
				return fmt.Errorf("run %s %s: %w", v.id, v.status.State, v.status.Error)
			}
			result, err := v.svc.Result(cmd.Context(), v.id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), priceOutput{
				RunID:       v.id,
				ModelHash:   v.svc.ModelHash(),
				LineageHead: v.lineage.Head(),
				Result:      result,
			})
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "instrument spec YAML")
	cmd.Flags().StringVar(&marketPath, "market", "", "market snapshot YAML")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func newHashCmd() *cobra.Command {
	var marketPath string
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the content hash of a market snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := fixture.LoadSnapshot(marketPath)
			if err != nil {
				return err
			}
			hash, _, err := repo.SnapshotHash(snap)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().StringVar(&marketPath, "market", "", "market snapshot YAML")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var specPath, marketPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run one valuation and verify its lineage chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := valuate(cmd.Context(), opts, specPath, marketPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ok, err := v.svc.VerifyLineage(cmd.Context(), v.id)
			if err != nil && !errors.Is(err, runs.ErrNotReady) {
				return err
			}
			out := verifyOutput{
				RunID:       v.id,
				State:       v.status.State,
				Stages:      v.lineage.Stages(),
				LineageHead: v.lineage.Head(),
				Verified:    ok,
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !ok {
				return errors.New("lineage verification failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "instrument spec YAML")
	cmd.Flags().StringVar(&marketPath, "market", "", "market snapshot YAML")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

type priceOutput struct {
	RunID       string                 `json:"runId"`
	ModelHash   string                 `json:"modelHash"`
	LineageHead string                 `json:"lineageHead"`
	Result      domain.ValuationResult `json:"result"`
}

type verifyOutput struct {
	RunID       string          `json:"runId"`
	State       domain.RunState `json:"state"`
	Stages      []string        `json:"stages"`
	LineageHead string          `json:"lineageHead"`
	Verified    bool            `json:"verified"`
}

type valuation struct {
	svc     *runs.Service
	id      string
	status  runs.Status
	lineage domain.LineageRecord
}

// valuate runs one valuation against in-process memory stores.
func valuate(ctx context.Context, opts *rootOptions, specPath, marketPath string, logOut io.Writer) (valuation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Default()
	if strings.TrimSpace(opts.configPath) != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return valuation{}, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return valuation{}, err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	spec, err := fixture.LoadSpec(specPath)
	if err != nil {
		return valuation{}, err
	}
	snap, err := fixture.LoadSnapshot(marketPath)
	if err != nil {
		return valuation{}, err
	}

	snapshots := memory.NewSnapshotStore()
	hash, err := snapshots.Put(ctx, snap)
	if err != nil {
		return valuation{}, err
	}
	runsCfg, err := cfg.RunsConfig(logger, nil)
	if err != nil {
		return valuation{}, err
	}
	runsCfg.Workers = 1
	svc, err := runs.New(memory.NewRunStore(), snapshots, lineage.NewMemoryStore(), runsCfg)
	if err != nil {
		return valuation{}, err
	}
	svc.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
	}()

	id, err := svc.Submit(ctx, runs.SubmitRequest{Spec: spec, SnapshotHash: hash, ModelVersion: cfg.ModelVersion})
	if err != nil && id == "" {
		return valuation{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	status, err := svc.Wait(waitCtx, id)
	if err != nil {
		return valuation{}, fmt.Errorf("wait for run %s: %w", id, err)
	}
	run, err := svc.Run(ctx, id)
	if err != nil {
		return valuation{}, err
	}
	return valuation{svc: svc, id: id, status: status, lineage: run.Lineage}, nil
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
