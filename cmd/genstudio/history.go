package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/huynh-missingcorner/media-studio-app/internal/history"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/store"
	"github.com/huynh-missingcorner/media-studio-app/internal/telemetry"
)

var historyOpts struct {
	mediaType string
	projectID string
	search    string
	page      int
	limit     int
	mock      bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past generations",
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVarP(&historyOpts.mediaType, "type", "t", "", "Filter by media type")
	f.StringVar(&historyOpts.projectID, "project", "", "Filter by project id")
	f.StringVarP(&historyOpts.search, "search", "s", "", "Filter by prompt text")
	f.IntVar(&historyOpts.page, "page", 1, "Page number")
	f.IntVar(&historyOpts.limit, "limit", 0, "Items per page (default GENSTUDIO_HISTORY_PAGE_SIZE)")
	f.BoolVar(&historyOpts.mock, "mock", false, "Use the in-process mock generation API")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if historyOpts.mock {
		cfg.Mock = true
	}
	filters := history.Filters{ProjectID: historyOpts.projectID, Search: historyOpts.search}
	if historyOpts.mediaType != "" {
		mt, err := model.ParseMediaType(historyOpts.mediaType)
		if err != nil {
			return err
		}
		filters.MediaType = mt
	}
	pageSize := cfg.HistoryPageSize
	if historyOpts.limit > 0 {
		pageSize = historyOpts.limit
	}

	st := store.NewMemoryStore(store.Deps{
		API:             newAPI(cfg),
		Logger:          telemetry.NewLoggerTo(os.Stderr, cfg.LogLevel),
		HistoryPageSize: pageSize,
	})
	defer st.Close()
	hist := st.Workspace("cli").History

	ctx := cmd.Context()
	if err := hist.SetFilters(ctx, filters); err != nil {
		return err
	}
	if historyOpts.page > 1 {
		if err := hist.SetPage(ctx, historyOpts.page); err != nil {
			return err
		}
	}

	state := hist.Snapshot()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED\tPROMPT")
	for _, item := range state.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.ID, item.MediaType.Lower(), item.Status, item.CreatedAt.Format(time.DateTime), clip(item.Prompt, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d items)\n", state.CurrentPage, state.TotalPages, state.TotalItems)
	return nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
