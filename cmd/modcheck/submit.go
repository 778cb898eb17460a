package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/whisper/contentguard/internal/messaging"
	"github.com/whisper/contentguard/internal/moderation"
)

// resultBus is the part of messaging.NATSClient submit uses.
type resultBus interface {
	PublishSubmission(data []byte) error
	SubscribeResults(authorID string, handler func(data []byte)) error
	UnsubscribeResults(authorID string) error
	Flush() error
}

var submitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Submit content for review and wait for the result",
	Long: `Publishes a submission on moderation.check, as a publishing service
would, and prints the result the moderator sends back on the author's
result subject.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ct, err := contentTypeFlag(cmd)
		if err != nil {
			return err
		}
		author, _ := cmd.Flags().GetString("author")
		if author == "" {
			return fmt.Errorf("--author is required")
		}
		wait, _ := cmd.Flags().GetDuration("wait")

		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NatsURL
		natsCfg.Name = "contentguard-modcheck"
		natsCfg.MaxReconnects = 0
		bus, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			return err
		}
		defer bus.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()
		req := moderation.SubmissionRequest{
			RequestID:   uuid.NewString(),
			AuthorID:    author,
			ContentType: ct,
			Text:        strings.Join(args, " "),
			Ts:          time.Now().UnixMilli(),
		}
		return runSubmit(ctx, cmd.OutOrStdout(), bus, req)
	},
}

func init() {
	submitCmd.Flags().StringP("type", "t", "post", "Content type: post, comment, username")
	submitCmd.Flags().String("author", "", "Author id to submit as")
	submitCmd.Flags().Duration("wait", 90*time.Second, "How long to wait for the result")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(ctx context.Context, w io.Writer, bus resultBus, req moderation.SubmissionRequest) error {
	results := make(chan moderation.SubmissionResult, 1)
	err := bus.SubscribeResults(req.AuthorID, func(data []byte) {
		var res moderation.SubmissionResult
		if err := json.Unmarshal(data, &res); err != nil || res.RequestID != req.RequestID {
			return
		}
		select {
		case results <- res:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer bus.UnsubscribeResults(req.AuthorID)
	if err := bus.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := bus.PublishSubmission(data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("no result for %s: %w", req.RequestID, ctx.Err())
	case res := <-results:
		return printResult(w, res)
	}
}

func printResult(w io.Writer, res moderation.SubmissionResult) error {
	if outputFmt == "json" {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "Request:    %s\n", res.RequestID)
	fmt.Fprintf(w, "Decision:   %s\n", res.Decision)
	if res.Reason != "" {
		fmt.Fprintf(w, "Reason:     %s\n", res.Reason)
	}
	if res.Verdict != nil {
		fmt.Fprintf(w, "Category:   %s\n", res.Verdict.Category)
		fmt.Fprintf(w, "Source:     %s\n", res.Verdict.Source)
	}
	if res.ErrorKind != "" {
		fmt.Fprintf(w, "Error:      %s\n", res.ErrorKind)
	}
	if res.Notice != "" {
		fmt.Fprintf(w, "Notice:     %s\n", res.Notice)
	}
	return nil
}
