package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/config"
	"github.com/xiaot623/gogo/uxrunner/internal/repository"
)

var knowledgeCategory string

// knowledgeCmd groups knowledge base maintenance.
var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the local knowledge base",
}

var knowledgeImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import knowledge chunks from YAML files",
	Long: `Imports knowledge chunks into the local store used for citation retrieval.

Each file holds either a list of chunks or a mapping with a "chunks" key.
Chunks without a category are filed under --category.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKnowledgeImport,
}

func init() {
	knowledgeImportCmd.Flags().StringVar(&knowledgeCategory, "category", "usability",
		"category for chunks that do not name one (usability, accessibility or conversion)")
	knowledgeCmd.AddCommand(knowledgeImportCmd)
}

func runKnowledgeImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize embedder: %w", err)
	}
	index := newIndex(db, embedder, logger)

	total := 0
	for _, path := range args {
		n, err := index.ImportFile(ctx, path, knowledgeCategory)
		total += n
		if err != nil {
			return fmt.Errorf("import %s after %d chunks: %w", path, n, err)
		}
		logger.Info("imported knowledge file", zap.String("path", path), zap.Int("chunks", n))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chunks\n", total)
	return nil
}
