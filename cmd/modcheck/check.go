package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whisper/contentguard/internal/moderation"
)

// checkOutput is the JSON form of a check.
type checkOutput struct {
	Verdict   *moderation.Verdict  `json:"verdict,omitempty"`
	Decision  moderation.Decision  `json:"decision"`
	Notice    string               `json:"notice,omitempty"`
	ErrorKind moderation.ErrorKind `json:"error_kind,omitempty"`
	Error     string               `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check <text>",
	Short: "Check a piece of content once",
	Long:  "Run text through the deny list and the classifier and print the verdict and policy decision",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ct, err := contentTypeFlag(cmd)
		if err != nil {
			return err
		}
		pipeline, _ := newPipeline()
		gate := moderation.NewPolicyGate(cfg.Gate)
		return runCheck(cmd.Context(), cmd.OutOrStdout(), pipeline, gate, ct, strings.Join(args, " "))
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the classifier's categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client := newPipeline()
		cats, err := client.Categories(cmd.Context())
		if err != nil {
			return err
		}
		return printCategories(cmd.OutOrStdout(), cats)
	},
}

func init() {
	checkCmd.Flags().StringP("type", "t", "post", "Content type: post, comment, username")
}

func runCheck(ctx context.Context, w io.Writer, checker moderation.Checker, gate *moderation.PolicyGate, ct moderation.ContentType, text string) error {
	v, err := checker.CheckContent(ctx, text)
	res := gate.Decide(v, err, ct)

	out := checkOutput{Decision: res.Decision, Notice: res.Notice}
	if err != nil {
		out.ErrorKind = moderation.KindOf(err)
		out.Error = err.Error()
	} else {
		out.Verdict = &v
	}

	if outputFmt == "json" {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Decision:   %s\n", out.Decision)
	if out.Verdict != nil {
		fmt.Fprintf(w, "Flagged:    %t\n", v.IsFlagged)
		fmt.Fprintf(w, "Category:   %s\n", v.Category)
		fmt.Fprintf(w, "Confidence: %.2f\n", v.Confidence)
		fmt.Fprintf(w, "Severity:   %.2f\n", v.Severity)
		fmt.Fprintf(w, "Source:     %s\n", v.Source)
		if len(v.MatchedTerms) > 0 {
			fmt.Fprintf(w, "Matched:    %s\n", strings.Join(v.MatchedTerms, ", "))
		}
	} else {
		fmt.Fprintf(w, "Error:      %s (%s)\n", out.Error, out.ErrorKind)
	}
	if out.Notice != "" {
		fmt.Fprintf(w, "Notice:     %s\n", out.Notice)
	}
	return nil
}

func printCategories(w io.Writer, cats map[string][]string) error {
	if outputFmt == "json" {
		return printJSON(w, cats)
	}
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %s\n", name, strings.Join(cats[name], ", "))
	}
	return nil
}
