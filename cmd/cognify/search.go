package cognify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/cognify/pkg/domain"
)

var (
	searchDatasets []string
	searchType     string
	searchTopK     int
	searchSession  string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query your datasets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tid, err := tenantID()
		if err != nil {
			return err
		}
		datasets := make([]uuid.UUID, 0, len(searchDatasets))
		for _, raw := range searchDatasets {
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid --dataset %q: %w", raw, err)
			}
			datasets = append(datasets, id)
		}

		resp, err := service.Search(cmd.Context(), domain.SearchRequest{
			Query:     strings.Join(args, " "),
			Type:      domain.SearchType(strings.ToUpper(searchType)),
			TenantID:  tid,
			Datasets:  datasets,
			TopK:      searchTopK,
			SessionID: searchSession,
		})
		if err != nil {
			return err
		}

		if resp.Result != "" {
			fmt.Println(resp.Result)
			fmt.Println()
		}
		if len(resp.Citations) > 0 {
			fmt.Println("Sources:")
			for i, c := range resp.Citations {
				fmt.Printf("  [%d] %s lines %d-%d\n", i+1, c.SourceName, c.StartLine, c.EndLine)
			}
		}
		if resp.Result == "" {
			for _, item := range resp.Context {
				fmt.Printf("%.3f  %s\n", item.Score, firstLine(item.Text))
			}
		}
		if resp.Degraded {
			fmt.Println("(degraded: some retrievers were unavailable)")
		}
		return nil
	},
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchDatasets, "dataset", nil, "dataset id (repeatable, required)")
	searchCmd.Flags().StringVar(&searchType, "type", "HYBRID", "search type: RAG, GRAPH_COMPLETION, HYBRID, CHUNKS")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "result count (default from config)")
	searchCmd.Flags().StringVar(&searchSession, "session", "", "session id for query history")
	_ = searchCmd.MarkFlagRequired("dataset")
}
