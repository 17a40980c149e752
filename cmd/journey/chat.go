package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/journey/internal/cli"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat <workflow-id>",
	Short: "Run a workflow as an interactive chat session",
	Long: `Starts (or resumes, with --session) a chat session on the terminal.
Plain lines are chat messages; lines starting with '!' simulate the execution
engine (!started, !done, !failed) or answer interventions (!approve, !reject, !answer).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		rawContext, _ := cmd.Flags().GetString("context")
		plain, _ := cmd.Flags().GetBool("plain")
		style, _ := cmd.Flags().GetString("style")

		var initialContext map[string]any
		if rawContext != "" {
			if err := json.Unmarshal([]byte(rawContext), &initialContext); err != nil {
				return fmt.Errorf("error parsing --context JSON: %w", err)
			}
		}

		cfg, app, err := setup(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()
		if err := app.Start(ctx, cfg.SweepSchedule); err != nil {
			return err
		}

		// Piped input gets plain markdown without colors.
		if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
			plain = true
		}

		err = cli.RunChat(ctx, app.Engine, cli.ChatOptions{
			WorkflowID: args[0],
			SessionID:  sessionID,
			Context:    initialContext,
			Plain:      plain,
			Style:      style,
			In:         cli.NewInterruptibleReader(os.Stdin, ctx.Done()),
			Out:        cmd.OutOrStdout(),
		})
		return cli.HandleExecutionError(err)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("session", "s", "", "Session ID to resume or create")
	chatCmd.Flags().StringP("context", "c", "", "Initial journey context as a JSON object")
	chatCmd.Flags().Bool("plain", false, "Disable the banner and markdown rendering")
	chatCmd.Flags().String("style", "", "Glamour style for markdown rendering (default: auto)")
}
