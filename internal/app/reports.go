package app

import (
	"fmt"
	"time"

	"github.com/blackwell-systems/usagewatch/internal/analyzer"
	"github.com/blackwell-systems/usagewatch/internal/pipeline"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var timeNow = func() time.Time { return time.Now().UTC() }

var (
	creditsLimit      float64
	creditsThresholds string
	creditsInput      string
	activityDays      int
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Resolve emails and save the email to API key mapping",
	Long: `Query the team directory once, resolve the requested emails (or every
user), and save an email_api_mapping_<date>.json file that later runs can
reuse with --mapping-file.`,
	RunE: reportRunner(pipeline.KindDirectory, nil),
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Command usage: bytes and lines added or removed, acceptance",
	RunE:  reportRunner(pipeline.KindCommands, nil),
}

var autocompleteCmd = &cobra.Command{
	Use:   "autocomplete",
	Short: "Autocomplete acceptances by user, date, hour, language and IDE",
	RunE:  reportRunner(pipeline.KindAutocomplete, nil),
}

var cascadeCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Cascade prompts and credits by user, date and model",
	RunE:  reportRunner(pipeline.KindCascade, nil),
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Flag users approaching their prompt credit limit",
	Long: `Sum prompt credits per user and flag everyone at or above a threshold
percentage of the credit limit. Each user is listed once, at the highest
threshold reached.

With --input, usage is read from an existing cascade by_user CSV instead
of the service.`,
	RunE: reportRunner(pipeline.KindCredits, creditOptions),
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "List active and inactive users",
	Long: `Find each user's most recent cascade usage and mark them active when it
falls within --days of today. Users with no usage are listed as never
active.`,
	RunE: reportRunner(pipeline.KindActivity, func(req *pipeline.Request, cmd *cobra.Command) error {
		if cmd.Flags().Changed("days") {
			req.ActivityDays = activityDays
		}
		return nil
	}),
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Resolve, fetch cascade usage and flag credits in one run",
	RunE:  reportRunner(pipeline.KindWorkflow, creditOptions),
}

func init() {
	for _, c := range []*cobra.Command{creditsCmd, workflowCmd} {
		c.Flags().Float64Var(&creditsLimit, "credit-limit", 0, "Prompt credit limit per user (default from config)")
		c.Flags().StringVar(&creditsThresholds, "thresholds", "", "Comma-separated alert percentages, e.g. 75,85,95")
	}
	creditsCmd.Flags().StringVar(&creditsInput, "input", "", "Read usage from a cascade by_user CSV")
	activityCmd.Flags().IntVar(&activityDays, "days", analyzer.DefaultActivityDays, "Days since last use that still count as active")

	rootCmd.AddCommand(directoryCmd, commandsCmd, autocompleteCmd, cascadeCmd, creditsCmd, activityCmd, workflowCmd)
}

// creditOptions applies the credit monitor flags.
func creditOptions(req *pipeline.Request, cmd *cobra.Command) error {
	if creditsLimit < 0 {
		return fmt.Errorf("--credit-limit must not be negative")
	}
	if creditsLimit > 0 {
		req.CreditLimit = decimal.NewFromFloat(creditsLimit)
	}
	if creditsThresholds != "" {
		th, err := analyzer.ParseThresholds(creditsThresholds)
		if err != nil {
			return fmt.Errorf("--thresholds: %w", err)
		}
		req.Thresholds = th
	}
	req.CreditInput = creditsInput
	return nil
}

// reportRunner returns a RunE that runs kind through the pipeline, prints
// a summary and maps the outcome to an exit code.
func reportRunner(kind pipeline.Kind, opts func(*pipeline.Request, *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		offline := kind == pipeline.KindCredits && creditsInput != ""
		e, err := setup(!offline)
		if err != nil {
			return err
		}

		req, err := baseRequest(kind, e.cfg)
		if err != nil {
			return err
		}
		if opts != nil {
			if err := opts(&req, cmd); err != nil {
				return err
			}
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		out, err := e.runner.Run(ctx, req)
		if err != nil {
			return err
		}
		if err := render(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		return exitFor(out)
	}
}
