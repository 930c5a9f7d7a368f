package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/sentiment-pulse/pkg/backend"
	"github.com/psantana5/sentiment-pulse/pkg/dashboard"
	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/psantana5/sentiment-pulse/pkg/store"
	"github.com/spf13/cobra"
)

var historyRemote bool

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage analyzed topics",
	Long:  `Commands for listing, showing and deleting previously analyzed topics, from the local store or the backend.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyzed topics",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <topic>",
	Short: "Print a stored analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <topic>",
	Short: "Delete an analyzed topic",
	Long:  `Delete a topic from the local store, and from the backend too with --remote.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)

	historyListCmd.Flags().BoolVar(&historyRemote, "remote", false, "list the backend history instead of the local store")
	historyDeleteCmd.Flags().BoolVar(&historyRemote, "remote", false, "also delete the topic from the backend")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	var entries []models.HistoryEntry

	if historyRemote {
		client, err := newBackendClient()
		if err != nil {
			return err
		}
		entries, err = client.History(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch backend history: %w", err)
		}
	} else {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		entries, err = st.ListHistory()
		if err != nil {
			return err
		}
	}

	if isJSONOutput() {
		return printJSON(map[string]interface{}{"history": entries, "count": len(entries)})
	}

	if len(entries) == 0 {
		fmt.Println("No analyzed topics")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Topic", "Posts", "Analyzed At")
	for _, e := range entries {
		posts := "-"
		if e.TotalPosts > 0 {
			posts = strconv.Itoa(e.TotalPosts)
		}
		created := "-"
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.Local().Format(time.RFC3339)
		}
		table.Append(e.Topic, posts, created)
	}
	table.Render()

	fmt.Printf("\nTotal: %d topics\n", len(entries))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.GetResult(args[0])
	if errors.Is(err, store.ErrResultNotFound) {
		return fmt.Errorf("no stored analysis for %q", args[0])
	}
	if err != nil {
		return err
	}

	view := dashboard.NewView(models.Job{Topic: args[0], State: models.JobStateCompleted}, result, "", "")
	if isJSONOutput() {
		return printJSON(view)
	}
	return dashboard.RenderReport(os.Stdout, view, dashboard.ReportOptions{})
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	topic := args[0]
	found := false

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	switch err := st.DeleteResult(topic); {
	case err == nil:
		found = true
		fmt.Printf("Deleted %q from local history\n", topic)
	case !errors.Is(err, store.ErrResultNotFound):
		return err
	}

	if historyRemote {
		client, err := newBackendClient()
		if err != nil {
			return err
		}
		switch err := client.DeleteHistory(cmd.Context(), topic); {
		case err == nil:
			found = true
			fmt.Printf("Deleted %q from backend history\n", topic)
		case !errors.Is(err, backend.ErrNotFound):
			return fmt.Errorf("failed to delete backend history: %w", err)
		}
	}

	if !found {
		return fmt.Errorf("no analysis for %q", topic)
	}
	return nil
}
