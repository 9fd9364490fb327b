package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civic-sage/backend/internal/bootstrap"
	"github.com/civic-sage/backend/internal/evaluation"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <dataset.yaml>",
	Short: "Check that the assistant recalls key facts",
	Long: `Ask each case's question as a novice visitor and let the model judge
whether the answer contains the expected fact. Results are stored in
SQLite and summarised on stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ds, err := evaluation.LoadDataset(args[0])
		if err != nil {
			return err
		}

		geography, err := bootstrap.Geography(ctx, cfg, closer)
		if err != nil {
			return err
		}
		db, err := bootstrap.SQLite(cfg, closer)
		if err != nil {
			return err
		}
		vectors, err := bootstrap.Vectors(ctx, cfg, closer)
		if err != nil {
			return err
		}

		client := bootstrap.LLM(cfg)
		orchestrator := bootstrap.Orchestrator(cfg, client, vectors, nil)

		report, err := evaluation.NewEvaluator(orchestrator, client, geography, db).Run(ctx, ds)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.String())

		passed, total, err := db.PassRate(ctx, ds.Name)
		if err == nil && total > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "All runs: %d / %d passed\n", passed, total)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
}
