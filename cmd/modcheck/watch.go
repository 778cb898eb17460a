package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper/contentguard/internal/moderation"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check stdin lines as successive edits of one draft",
	Long: `Each line read from stdin replaces the draft's content, as if the
author had typed it. Checks are debounced, so only the content present
when typing pauses is sent to the classifier.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ct, err := contentTypeFlag(cmd)
		if err != nil {
			return err
		}
		delay, _ := cmd.Flags().GetDuration("delay")
		if !cmd.Flags().Changed("delay") {
			delay = cfg.DebounceDelay
		}
		pipeline, _ := newPipeline()
		return runWatch(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), pipeline,
			moderation.NewPolicyGate(cfg.Gate), ct, delay, cfg.ClassifierTimeout)
	},
}

func init() {
	watchCmd.Flags().StringP("type", "t", "post", "Content type: post, comment, username")
	watchCmd.Flags().DurationP("delay", "d", time.Second, "Debounce delay (default from config)")
}

func terminal(s moderation.DraftState) bool {
	return s == moderation.StateClean || s == moderation.StateFlagged || s == moderation.StateCheckFailed
}

// runWatch feeds lines from in to a field controller and prints every state
// change. After EOF it waits for the last line's result, up to delay plus
// checkTimeout.
func runWatch(ctx context.Context, in io.Reader, w io.Writer, checker moderation.Checker, gate *moderation.PolicyGate, ct moderation.ContentType, delay, checkTimeout time.Duration) error {
	updates := make(chan moderation.FieldUpdate, 64)
	fc := moderation.NewFieldController(checker, gate, moderation.FieldConfig{
		Field:       "draft",
		ContentType: ct,
		Delay:       delay,
		OnUpdate: func(u moderation.FieldUpdate) {
			// Idle echoes our own Edit, which runs on the loop draining updates.
			if u.State != moderation.StateIdle {
				updates <- u
			}
		},
	})
	defer fc.Close()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
	}()

	var (
		last   string
		edited bool
		done   <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return err
				}
				if !edited {
					return nil
				}
				lines = nil
				done = time.After(delay + checkTimeout + time.Second)
				continue
			}
			last, edited = line, true
			fc.Edit(line)
		case u := <-updates:
			if err := printUpdate(w, u); err != nil {
				return err
			}
			if lines == nil && terminal(u.State) && u.Text == last {
				return nil
			}
		case <-done:
			return fmt.Errorf("no result for the final draft within %s", delay+checkTimeout)
		}
	}
}

func printUpdate(w io.Writer, u moderation.FieldUpdate) error {
	if outputFmt == "json" {
		out := struct {
			State     moderation.DraftState `json:"state"`
			Decision  moderation.Decision   `json:"decision,omitempty"`
			CanSubmit bool                  `json:"can_submit"`
			Text      string                `json:"text"`
			Verdict   *moderation.Verdict   `json:"verdict,omitempty"`
			Notice    string                `json:"notice,omitempty"`
		}{u.State, u.Decision, u.CanSubmit, u.Text, u.Verdict, u.Notice}
		return json.NewEncoder(w).Encode(out)
	}

	switch u.State {
	case moderation.StateChecking:
		_, err := fmt.Fprintf(w, "[checking] %q\n", u.Text)
		return err
	default:
		_, err := fmt.Fprintf(w, "[%s] %q decision=%s can_submit=%t %s\n", u.State, u.Text, u.Decision, u.CanSubmit, u.Notice)
		return err
	}
}
