package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MrCodeEU/faceservice/internal/embedding"
	"github.com/spf13/cobra"
)

var (
	assumeYes    bool
	historyLimit int
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage enrolled subjects in the enrollment store",
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled subjects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(listSubjects)
	},
}

var subjectsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a subject and all of its captures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *embedding.Store) error {
			return deleteSubject(store, args[0])
		})
	},
}

var subjectsHistoryCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show recent comparisons against a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *embedding.Store) error {
			return showHistory(store, args[0])
		})
	},
}

func init() {
	subjectsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Delete without confirmation")
	subjectsHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of comparisons to show")

	subjectsCmd.AddCommand(subjectsListCmd, subjectsDeleteCmd, subjectsHistoryCmd)
	rootCmd.AddCommand(subjectsCmd)
}

func withStore(fn func(store *embedding.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Storage.Enabled {
		return errors.New("enrollment storage is disabled in the configuration")
	}

	store, err := embedding.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	return fn(store)
}

func listSubjects(store *embedding.Store) error {
	subjects, err := store.ListSubjects()
	if err != nil {
		return err
	}

	if len(subjects) == 0 {
		fmt.Println("No enrolled subjects found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tCAPTURES\tMATCHES\tLAST MATCHED\tCREATED")
	fmt.Fprintln(w, "----\t--------\t-------\t------------\t-------")

	for _, s := range subjects {
		lastMatched := "Never"
		if s.LastMatchedAt != nil {
			lastMatched = s.LastMatchedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			s.Name, len(s.Captures), s.MatchCount, lastMatched, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d subject(s)\n", len(subjects))
	return nil
}

func deleteSubject(store *embedding.Store, name string) error {
	if _, err := store.GetSubject(name); err != nil {
		if errors.Is(err, embedding.ErrSubjectNotFound) {
			return fmt.Errorf("subject not found: %s", name)
		}
		return err
	}

	if !assumeYes {
		fmt.Printf("Are you sure you want to delete subject '%s'? [y/N]: ", name)

		var response string
		_, _ = fmt.Scanln(&response)

		response = strings.ToLower(response)
		if response != "y" && response != "yes" {
			fmt.Println("Deletion cancelled.")
			return nil
		}
	}

	if err := store.DeleteSubject(name); err != nil {
		return err
	}

	fmt.Printf("Subject '%s' deleted.\n", name)
	return nil
}

func showHistory(store *embedding.Store, name string) error {
	history, err := store.ComparisonHistory(name, historyLimit)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		fmt.Printf("No comparisons recorded for '%s'.\n", name)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tSESSION\tSIMILARITY\tTHRESHOLD\tMATCHED")
	for _, c := range history {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%.2f\t%t\n",
			c.CreatedAt.Local().Format("2006-01-02 15:04:05"), c.SessionID, c.Similarity, c.Threshold, c.Matched)
	}
	return w.Flush()
}
