package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/pattern"
	"github.com/skeinhq/skein/internal/store"
	"github.com/skeinhq/skein/internal/templates"
	"github.com/skeinhq/skein/internal/vault"
)

func newRunCmd() *cobra.Command {
	var (
		patternName string
		inputJSON   string
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Execute a task through a pattern and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), patternName, args[0], inputJSON)
		},
	}
	cmd.Flags().StringVarP(&patternName, "pattern", "p", "auto", "pattern to dispatch through")
	cmd.Flags().StringVarP(&inputJSON, "input", "i", "", "seed input as JSON object")
	return cmd
}

func runOnce(ctx context.Context, patternName, task, inputJSON string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	input := map[string]any{}
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return fmt.Errorf("parse input: %w", err)
		}
	}

	eng := engine.New(engine.Options{
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		MaxErrors:     cfg.Engine.MaxErrors,
		Auto: pattern.AutoConfig{
			MinConfidence: cfg.Engine.MinConfidence,
			FallbackSkill: cfg.Engine.FallbackSkill,
		},
	})
	defer eng.Shutdown()

	if cfg.Vault.Passphrase != "" {
		keeper := vault.NewKeeper(vault.New(cfg.Vault.Passphrase), db)
		eng.Executor().SetInputExpander(keeper.Expand)
	}

	if _, err := os.Stat(cfg.Templates.Path); err == nil {
		loader := templates.NewLoader(cfg.Templates, eng.Registry(), builtinHandlers, eng.Events())
		if err := loader.Load(); err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
	}

	stopArchive := db.Archive(eng.Events())
	defer stopArchive()

	runID := uuid.NewString()
	if err := db.SaveRun(&store.Run{
		ID:      runID,
		Pattern: patternName,
		Task:    task,
		Status:  "running",
		Input:   input,
	}); err != nil {
		return err
	}

	out, execErr := eng.Execute(ctx, patternName, engine.ExecuteRequest{ID: runID, Task: task, Input: input})
	if execErr != nil {
		_ = db.FinishRun(runID, "failed", nil, execErr.Error())
		return execErr
	}
	if err := db.FinishRun(runID, "completed", out, ""); err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
