package main

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/whisper/contentguard/internal/config"
	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/moderation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	verbose    bool
	configPath string
	outputFmt  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "modcheck",
	Short: "Check content against the moderation pipeline",
	Long: `modcheck runs text through the deny list and the remote classifier
and prints the verdict together with the decision the policy gate would
make for the given content type.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// Logs share stdout with results; keep them quiet unless asked.
		level := "warn"
		if verbose {
			level = "debug"
		}
		return logging.Init(level, cfg.LogFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $CONTENTGUARD_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "Output format: text, json")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(watchCmd)
}

// newPipeline builds the pipeline and client from the loaded config.
func newPipeline() (*moderation.Pipeline, *moderation.Client) {
	deny, err := cfg.LoadDenyList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	client := moderation.NewClient(cfg.ClientConfig())
	return moderation.NewPipeline(deny, client), client
}

func contentTypeFlag(cmd *cobra.Command) (moderation.ContentType, error) {
	s, _ := cmd.Flags().GetString("type")
	ct, ok := moderation.ParseContentType(s)
	if !ok {
		return "", fmt.Errorf("unknown content type %q (want post, comment or username)", s)
	}
	return ct, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
