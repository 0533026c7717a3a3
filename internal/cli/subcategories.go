package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-ingestor/internal/records"
)

var recordsDB string

var subCategoriesCmd = &cobra.Command{
	Use:     "subcategories",
	Aliases: []string{"subcats"},
	Short:   "Manage the sub-categories extraction may assign",
	Long: `Sub-categories are read from the records database the server writes to.
A job with a topic only accepts sub-categories listed for that topic.

These commands open the database directly; point --db at the file ingestd
uses (RECORDS_DB).`,
}

var subCategoriesImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Create or rename sub-categories from a JSON file",
	Long: `The file holds a JSON array of {"topic_id", "id", "name"} objects.
Existing ids are renamed or moved; nothing is written if any entry is
incomplete.

Example:
  ingestctl subcategories import subcategories.json --db ./data/records.db`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := openRecords()
		if err != nil {
			return err
		}
		defer closeDB()

		n, err := repo.ImportSubCategoriesFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d sub-categories into %s\n", n, recordsDB)
		return nil
	},
}

var subCategoriesListCmd = &cobra.Command{
	Use:   "list <topic_id>",
	Short: "List the sub-categories of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := openRecords()
		if err != nil {
			return err
		}
		defer closeDB()

		scs, err := repo.LoadContext(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(scs) == 0 {
			fmt.Fprintf(out, "No sub-categories for topic %s\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "%-36s %s\n", "ID", "NAME")
		for _, sc := range scs {
			fmt.Fprintf(out, "%-36s %s\n", sc.ID, sc.Name)
		}
		return nil
	},
}

func init() {
	subCategoriesCmd.PersistentFlags().StringVar(&recordsDB, "db", envOr("RECORDS_DB", "./data/records.db"), "records database path")
	subCategoriesCmd.AddCommand(subCategoriesImportCmd, subCategoriesListCmd)
	rootCmd.AddCommand(subCategoriesCmd)
}

func openRecords() (*records.Repository, func(), error) {
	if dir := filepath.Dir(recordsDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure records directory: %w", err)
		}
	}
	db, err := records.Open(recordsDB)
	if err != nil {
		return nil, nil, err
	}
	return records.NewRepository(db.DB), func() { _ = db.Close() }, nil
}
