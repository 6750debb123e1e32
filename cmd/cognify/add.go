package cognify

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var addDataset string

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Add documents to a dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tid, err := tenantID()
		if err != nil {
			return err
		}
		dsID, err := uuid.Parse(addDataset)
		if err != nil {
			return fmt.Errorf("invalid --dataset: %w", err)
		}
		for _, path := range args {
			d, err := service.AddFile(cmd.Context(), tid, dsID, path)
			if err != nil {
				return fmt.Errorf("add %s: %w", path, err)
			}
			fmt.Printf("added %s (%s)\n", path, d.ID)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addDataset, "dataset", "", "target dataset id (required)")
	_ = addCmd.MarkFlagRequired("dataset")
}
