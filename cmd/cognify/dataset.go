package cognify

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage datasets",
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tid, err := tenantID()
		if err != nil {
			return err
		}
		uid, err := userID()
		if err != nil {
			return err
		}
		ds, err := service.CreateDataset(cmd.Context(), tid, uid, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created dataset %s (%s)\n", ds.Name, ds.ID)
		return nil
	},
}

var datasetDeleteCmd = &cobra.Command{
	Use:   "delete <dataset-id>",
	Short: "Delete a dataset and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tid, err := tenantID()
		if err != nil {
			return err
		}
		dsID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid dataset id: %w", err)
		}
		if err := service.DeleteDataset(cmd.Context(), tid, dsID); err != nil {
			return err
		}
		fmt.Printf("deleted dataset %s\n", dsID)
		return nil
	},
}

func init() {
	datasetCmd.AddCommand(datasetCreateCmd)
	datasetCmd.AddCommand(datasetDeleteCmd)
}
