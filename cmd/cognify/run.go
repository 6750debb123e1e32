package cognify

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/cognify/pkg/cognify"
	"github.com/liliang-cn/cognify/pkg/domain"
)

var (
	runDataset    string
	runBackground bool
	runValidate   bool
	runNoResolve  bool
	runChunkSize  int
	runOverlap    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cognify pipeline over a dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		tid, err := tenantID()
		if err != nil {
			return err
		}
		uid, err := userID()
		if err != nil {
			return err
		}
		dsID, err := uuid.Parse(runDataset)
		if err != nil {
			return fmt.Errorf("invalid --dataset: %w", err)
		}

		opts := cognify.DefaultCognifyOptions()
		opts.ValidationEnabled = runValidate
		opts.ResolutionEnabled = !runNoResolve
		opts.RunInBackground = runBackground
		opts.ChunkSize = runChunkSize
		opts.ChunkOverlap = runOverlap

		if runBackground {
			runID, err := service.Cognify(cmd.Context(), tid, dsID, uid, opts)
			if err != nil {
				return err
			}
			fmt.Printf("run %s started\n", runID)
			return nil
		}

		// Foreground: subscribe before execution output lands.
		runID, err := service.Cognify(cmd.Context(), tid, dsID, uid, opts)
		if err != nil {
			fmt.Printf("run %s failed: %v\n", runID, err)
			return err
		}
		run, err := service.GetRun(cmd.Context(), runID)
		if err != nil {
			return err
		}
		printRun(run)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs for a dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsID, err := uuid.Parse(runDataset)
		if err != nil {
			return fmt.Errorf("invalid --dataset: %w", err)
		}
		runs, err := service.ListRuns(cmd.Context(), dsID)
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Printf("%s  %-10s  %s\n", run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}
		run, err := service.GetRun(cmd.Context(), runID)
		if err != nil {
			return err
		}
		printRun(run)
		return nil
	},
}

func printRun(run *domain.PipelineRun) {
	fmt.Printf("run %s: %s\n", run.ID, run.Status)
	for _, stage := range run.Stages {
		fmt.Printf("  %-12s %-10s in=%-5d out=%-5d retries=%-3d dropped=%-3d %s\n",
			stage.Name, stage.Status, stage.ItemsIn, stage.ItemsOut,
			stage.Retries, stage.Dropped, stage.Duration.Round(1e6))
	}
	for _, w := range run.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	if run.Error != "" {
		fmt.Printf("  error: %s\n", run.Error)
	}
}

func init() {
	runCmd.Flags().StringVar(&runDataset, "dataset", "", "dataset id (required)")
	runCmd.Flags().BoolVar(&runBackground, "background", false, "run in the background")
	runCmd.Flags().BoolVar(&runValidate, "validate", false, "enable the relation validation pass")
	runCmd.Flags().BoolVar(&runNoResolve, "no-resolve", false, "skip entity resolution")
	runCmd.Flags().IntVar(&runChunkSize, "chunk-size", 0, "override chunk token budget")
	runCmd.Flags().IntVar(&runOverlap, "chunk-overlap", 0, "override chunk overlap tokens")
	_ = runCmd.MarkFlagRequired("dataset")

	runsListCmd.Flags().StringVar(&runDataset, "dataset", "", "dataset id (required)")
	_ = runsListCmd.MarkFlagRequired("dataset")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
}
