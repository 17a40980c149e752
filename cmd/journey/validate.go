package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow-id...]",
	Short: "Check workflow graphs for consistency",
	Long: `Loads every workflow (or the given ones), checks references, node kinds and
cycles outside retry edges, and maps each into a journey to compile its guards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, app, err := setup(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		failed, err := runValidate(cmd.Context(), app, args, func(format string, a ...any) {
			fmt.Fprintf(cmd.OutOrStdout(), format, a...)
		})
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("validation failed for %d workflow(s)", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(ctx context.Context, app *cli.App, ids []string, printf func(string, ...any)) (int, error) {
	if len(ids) == 0 {
		all, err := app.Loader.ListWorkflows(ctx)
		if err != nil {
			return 0, err
		}
		ids = all
	}
	if len(ids) == 0 {
		return 0, errors.New("no workflows found")
	}

	failed := 0
	for _, id := range ids {
		g, err := app.Loader.LoadGraph(ctx, id)
		if err == nil {
			err = validator.ValidateGraph(g)
		}
		if err == nil {
			_, err = app.Engine.Journey(ctx, id)
		}
		if err != nil {
			failed++
			printf("Workflow '%s' is invalid: %s\n", id, validator.Describe(err))
			continue
		}
		printf("Workflow '%s' is valid! ✅\n", id)
	}
	return failed, nil
}
