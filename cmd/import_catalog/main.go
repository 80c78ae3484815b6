package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"librarydesk/config"
	"librarydesk/library"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newImportCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	var (
		dbPath string
		fresh  bool
	)
	cmd := &cobra.Command{
		Use:          "import_catalog <file.csv>",
		Short:        "Bulk-load catalog entries from CSV",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DBPath
			}
			log, err := config.NewLogger(cfg.LogLevel, cfg.Development())
			if err != nil {
				return err
			}
			defer log.Sync()

			if fresh {
				removeDatabase(log, dbPath)
			}
			return run(cmd.Context(), log, dbPath, args[0])
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database file (default $LIBRARY_DB or library.db)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "delete the existing database first")
	return cmd
}

// removeDatabase deletes the database and its WAL side files.
func removeDatabase(log *zap.Logger, dbPath string) {
	fmt.Println("Cleaning up existing database files...")
	for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			log.Warn("could not remove database file", zap.String("file", file), zap.Error(err))
		}
	}
}

func run(ctx context.Context, log *zap.Logger, dbPath, csvPath string) error {
	manager, err := library.NewLibraryManager(dbPath, library.WithManagerLogger(log))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer manager.Close()

	fmt.Printf("Importing catalog from %s...\n", csvPath)
	report, err := manager.ImportCatalogFile(ctx, csvPath)
	if err != nil {
		return err
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", len(report.Imported))
	fmt.Printf("Errors: %d\n", len(report.Failed))
	for _, f := range report.Failed {
		fmt.Printf("  line %d: %v\n", f.Line, f.Err)
	}

	if len(report.Imported) == 0 {
		return nil
	}
	books, err := manager.ListBooks(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\nCatalog:")
	fmt.Printf("%-5s %-12s %-30s %-25s %-4s\n", "ID", "Code", "Title", "Author", "Qty")
	fmt.Println(strings.Repeat("-", 80))
	for _, b := range books {
		fmt.Println(library.PrettyBook(b))
	}
	return nil
}
