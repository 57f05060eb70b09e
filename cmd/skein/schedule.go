package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/scheduler"
	"github.com/skeinhq/skein/internal/store"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled runs",
	}
	cmd.AddCommand(newScheduleAddCmd(), newScheduleListCmd(), newScheduleDeleteCmd())
	return cmd
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return db, nil
}

func newScheduleAddCmd() *cobra.Command {
	var (
		name        string
		patternName string
		scheduleDef string
		inputJSON   string
	)

	cmd := &cobra.Command{
		Use:   "add <task>",
		Short: "Add a scheduled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			next := scheduler.CalculateNextRun(scheduleDef)
			if next == nil {
				return fmt.Errorf("schedule %q has no future run", scheduleDef)
			}

			input := map[string]any{}
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("parse input: %w", err)
				}
			}

			run := &store.ScheduledRun{
				ID:        uuid.NewString(),
				Name:      name,
				Pattern:   patternName,
				Task:      args[0],
				Input:     input,
				Schedule:  scheduleDef,
				Status:    "active",
				NextRunAt: next,
			}
			if err := db.SaveScheduledRun(run); err != nil {
				return err
			}
			fmt.Printf("schedule %s created, next run %s\n", run.ID, next.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "schedule name")
	cmd.Flags().StringVarP(&patternName, "pattern", "p", "auto", "pattern to dispatch through")
	cmd.Flags().StringVarP(&scheduleDef, "schedule", "s", "", `schedule JSON, e.g. {"kind":"cron","cron_expr":"0 3 * * *"}`)
	cmd.Flags().StringVarP(&inputJSON, "input", "i", "", "seed input as JSON object")
	cmd.MarkFlagRequired("schedule")
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListScheduledRuns()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPATTERN\tSTATUS\tNEXT RUN\tLAST STATUS")
			for _, r := range runs {
				next := "-"
				if r.NextRunAt != nil {
					next = r.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Name, r.Pattern, r.Status, next, r.LastStatus)
			}
			return w.Flush()
		},
	}
}

func newScheduleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scheduled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteScheduledRun(args[0]); err != nil {
				return err
			}
			fmt.Printf("schedule %s deleted\n", args[0])
			return nil
		},
	}
}
