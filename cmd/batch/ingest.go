package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/civic-sage/backend/internal/bootstrap"
	"github.com/civic-sage/backend/internal/ingestion"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

var ingestReplace bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <documents.yaml>",
	Short: "Embed documents into officials' knowledge bases",
	Long: `Embed a YAML list of documents into the vector store. Each document
names its official; with --replace every listed official's existing
passages are removed first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read documents: %w", err)
		}
		var docs []models.KnowledgeDocument
		if err := yaml.Unmarshal(data, &docs); err != nil {
			return fmt.Errorf("failed to parse documents: %w", err)
		}

		geography, err := bootstrap.Geography(ctx, cfg, closer)
		if err != nil {
			return err
		}
		db, err := bootstrap.SQLite(cfg, closer)
		if err != nil {
			return err
		}
		vectors, err := bootstrap.Vectors(ctx, cfg, closer)
		if err != nil {
			return err
		}
		processor := ingestion.NewProcessor(bootstrap.LLM(cfg), vectors, db)

		byOfficial := make(map[string][]models.KnowledgeDocument)
		var order []string
		for _, doc := range docs {
			if _, err := geography.Official(ctx, doc.Official); err != nil {
				return fmt.Errorf("document %q: %w", doc.Title, err)
			}
			if _, seen := byOfficial[doc.Official]; !seen {
				order = append(order, doc.Official)
			}
			byOfficial[doc.Official] = append(byOfficial[doc.Official], doc)
		}

		total := 0
		for _, name := range order {
			var n int
			if ingestReplace {
				n, err = processor.Replace(ctx, name, byOfficial[name])
			} else {
				n, err = processor.Ingest(ctx, name, byOfficial[name])
			}
			if err != nil {
				return err
			}
			count, _ := db.DocumentCount(ctx, name)
			logger.Info("Official ingested",
				zap.String("official", name),
				zap.Int("chunks", n),
				zap.Int("documents", count),
			)
			total += n
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents as %d chunks\n", len(docs), total)
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestReplace, "replace", false, "remove existing passages of each official first")
	rootCmd.AddCommand(ingestCmd)
}
