package main

import (
	"fmt"

	"github.com/aretw0/journey/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <workflow-id>",
	Short: "Export the workflow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of a workflow. With --session, the
completed, failed, skipped and current nodes of that session are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		_, app, err := setup(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		g, err := app.Loader.LoadGraph(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		g.AssignEdgeIDs()

		var overlay *graph.Overlay
		if sessionID != "" {
			state, err := app.Engine.Status(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("error loading session '%s': %w", sessionID, err)
			}
			overlay = graph.OverlayOf(state)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(g, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the progress of this session")
}
