package cognify

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/cognify/pkg/cognify"
	"github.com/liliang-cn/cognify/pkg/config"
	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

var (
	cfgFile string
	debug   bool
	tenant  string
	user    string

	cfg     *config.Config
	service *cognify.Service
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "cognify",
	Short: "Cognify - knowledge graphs and hybrid retrieval from your documents",
	Long: `Cognify ingests documents into datasets, extracts a knowledge graph
with an LLM, and answers questions over the result using vector, graph
and keyword retrieval.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if debug {
			log.SetDebug(true)
		}
		service, err = cognify.New(cfg, cognify.Deps{})
		if err != nil {
			return fmt.Errorf("failed to initialize service: %w", err)
		}
		return nil
	},
}

// GetRootCmd exposes the root command so main.go (and tests) can execute it.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default cognify.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant id (default: the built-in single tenant)")
	rootCmd.PersistentFlags().StringVar(&user, "user", "", "acting user id")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(searchCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cognify", version)
	},
}

// tenantID resolves the --tenant flag, defaulting to a stable single-tenant
// id so standalone use needs no flags.
func tenantID() (uuid.UUID, error) {
	if tenant == "" {
		return domain.DeterministicID("tenant", "default"), nil
	}
	id, err := uuid.Parse(tenant)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --tenant: %w", err)
	}
	return id, nil
}

func userID() (uuid.UUID, error) {
	if user == "" {
		return domain.DeterministicID("user", "default"), nil
	}
	id, err := uuid.Parse(user)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user: %w", err)
	}
	return id, nil
}
