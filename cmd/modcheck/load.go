package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper/contentguard/internal/loadgen"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Simulate editors typing into the draft gateway",
	Long: `Opens one connection per simulated editor, types phrases into a draft
one keystroke at a time and reports how long each draft takes to settle
after its last keystroke, together with the checks started per draft.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ct, err := contentTypeFlag(cmd)
		if err != nil {
			return err
		}
		url, _ := cmd.Flags().GetString("url")
		clients, _ := cmd.Flags().GetInt("clients")
		drafts, _ := cmd.Flags().GetInt("drafts")
		keystroke, _ := cmd.Flags().GetDuration("keystroke")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Draft load: %d editors x %d drafts against %s (keystroke=%s)\n", clients, drafts, url, keystroke)

		col := loadgen.NewCollector()
		err = loadgen.Run(ctx, loadgen.Config{
			URL:           url,
			Clients:       clients,
			Drafts:        drafts,
			Keystroke:     keystroke,
			Concurrency:   concurrency,
			ContentType:   ct,
			SettleTimeout: cfg.DebounceDelay + cfg.ClassifierTimeout,
		}, col)
		col.Report(out)
		return err
	},
}

func init() {
	loadCmd.Flags().String("url", "ws://localhost:8080/ws", "Draft gateway URL")
	loadCmd.Flags().Int("clients", 50, "Simulated editors")
	loadCmd.Flags().Int("drafts", 3, "Drafts typed per editor")
	loadCmd.Flags().Duration("keystroke", 80*time.Millisecond, "Pause between keystrokes")
	loadCmd.Flags().Int("concurrency", 20, "Maximum simultaneous dials")
	loadCmd.Flags().StringP("type", "t", "comment", "Content type: post, comment, username")
	rootCmd.AddCommand(loadCmd)
}
