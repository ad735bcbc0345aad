package cli

import (
	"fmt"
	"sort"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hive-discover/clip-api/internal/usecase"
)

var onceBacklog int

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Process a single batch and print a summary",
	Long: `Run exactly one worker cycle with progress output. With --backlog the batch
offset is sampled from the given pending count, as the run loop does after
its first cycle.

Example:
  clipworker once --config clipworker.yaml --backlog 500`,
	RunE: runOnce,
}

func init() {
	onceCmd.Flags().IntVar(&onceBacklog, "backlog", 0, "pending count to sample the batch offset from")
	rootCmd.AddCommand(onceCmd)
}

func newBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)
}

func runOnce(cmd *cobra.Command, args []string) error {
	w, err := buildWorker(cfg, rebuild, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	bars := map[usecase.Phase]*progressbar.ProgressBar{}
	w.orch.OnProgress = func(phase usecase.Phase, done, total int) {
		bar, ok := bars[phase]
		if !ok {
			bar = newBar(total, fmt.Sprintf("[cyan]%s[reset]", phase))
			bars[phase] = bar
		}
		_ = bar.Set(done)
	}

	report, err := w.orch.RunCycle(cmd.Context(), onceBacklog)
	if err != nil {
		return err
	}
	if report.Idle {
		fmt.Println("No pending posts.")
		return nil
	}

	fmt.Printf("Cycle %s\n", report.ID)
	fmt.Printf("  Posts:      %d (backlog %d)\n", report.Posts, report.Backlog)
	fmt.Printf("  Images:     %d\n", report.Images)

	outcomes := make([]string, 0, len(report.Outcomes))
	for k := range report.Outcomes {
		outcomes = append(outcomes, k)
	}
	sort.Strings(outcomes)
	for _, k := range outcomes {
		fmt.Printf("    %-10s %d\n", k+":", report.Outcomes[k])
	}

	fmt.Printf("  Aggregated: %d\n", report.Aggregated)
	fmt.Printf("  Marked:     %d\n", report.Marked)
	if report.Withheld > 0 {
		fmt.Printf("  Withheld:   %d\n", report.Withheld)
	}
	fmt.Printf("  Elapsed:    %.2fs\n", report.Elapsed.Seconds())
	return nil
}
