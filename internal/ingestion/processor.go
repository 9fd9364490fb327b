// Package ingestion loads source documents into an official's knowledge
// base: it flattens and chunks them, embeds every chunk and writes the
// chunks to the vector store under the official's namespace.
package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
	"github.com/civic-sage/backend/pkg/utils"
)

// MaxChunkLength bounds a chunk in characters. Chunks break on word
// boundaries; a single longer word becomes a chunk of its own.
const MaxChunkLength = 1000

var whitespace = regexp.MustCompile(`\s+`)

type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Insert(ctx context.Context, chunks []models.KnowledgeChunk) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Registry remembers which documents were ingested.
type Registry interface {
	UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument, chunks int) error
}

type Processor struct {
	embedder  Embedder
	vectors   VectorStore
	registry  Registry
	chunkSize int
}

func NewProcessor(embedder Embedder, vectors VectorStore, registry Registry) *Processor {
	return &Processor{
		embedder:  embedder,
		vectors:   vectors,
		registry:  registry,
		chunkSize: MaxChunkLength,
	}
}

// Replace drops everything stored for the official before ingesting docs.
func (p *Processor) Replace(ctx context.Context, official string, docs []models.KnowledgeDocument) (int, error) {
	if err := p.vectors.DeleteNamespace(ctx, official); err != nil {
		return 0, err
	}
	logger.Info("Knowledge base cleared", zap.String("official", official))
	return p.Ingest(ctx, official, docs)
}

// Ingest adds docs to the official's namespace and returns the number of
// chunks written. Chunk IDs are content hashes, so re-ingesting the same
// text overwrites rather than duplicates.
func (p *Processor) Ingest(ctx context.Context, official string, docs []models.KnowledgeDocument) (int, error) {
	total := 0
	for i := range docs {
		doc := &docs[i]
		doc.Official = official
		n, err := p.ingestOne(ctx, doc)
		if err != nil {
			return total, fmt.Errorf("document %q: %w", doc.Title, err)
		}
		total += n
	}

	logger.Info("Knowledge base updated",
		zap.String("official", official),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", total),
	)
	return total, nil
}

func (p *Processor) ingestOne(ctx context.Context, doc *models.KnowledgeDocument) (int, error) {
	text := DocumentText(doc)
	if text == "" {
		logger.Warn("Document has no text, skipping", zap.String("title", doc.Title))
		return 0, nil
	}
	if doc.ID == "" {
		doc.ID = utils.HashParts(doc.Official, doc.Title, doc.SourceURL)
	}

	texts := SplitText(text, p.chunkSize)
	embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(texts))
	}

	chunks := make([]models.KnowledgeChunk, len(texts))
	for i, t := range texts {
		chunks[i] = models.KnowledgeChunk{
			ID:         utils.HashParts(doc.Official, t),
			DocID:      doc.ID,
			Namespace:  doc.Official,
			ChunkIndex: i,
			Text:       t,
			SourceURL:  doc.SourceURL,
			Embedding:  embeddings[i],
		}
	}

	if err := p.vectors.Insert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to insert into vector DB: %w", err)
	}

	if p.registry != nil {
		if err := p.registry.UpsertDocument(ctx, doc, len(chunks)); err != nil {
			logger.Warn("Failed to register document", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}

	metrics.DocumentsProcessed.Inc()
	logger.Debug("Document ingested", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// DocumentText is the plain text of a document: its title, its content with
// any HTML stripped, then its flattened fields.
func DocumentText(doc *models.KnowledgeDocument) string {
	var parts []string
	if doc.Title != "" {
		parts = append(parts, doc.Title)
	}

	content := doc.Content
	if doc.IsHTML {
		content = cleanHTML(content)
	}
	if content = strings.TrimSpace(content); content != "" {
		parts = append(parts, content)
	}

	if len(doc.Fields) > 0 {
		parts = append(parts, Flatten(doc.Fields))
	}

	if len(parts) == 0 || (len(parts) == 1 && doc.Title != "") {
		return ""
	}
	return strings.Join(parts, "\n")
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Remove()

	text := whitespace.ReplaceAllString(doc.Find("body").Text(), " ")
	return strings.TrimSpace(text)
}

// Flatten renders nested maps as indented "key: value" lines with keys in
// sorted order. Booleans become Yes/No.
func Flatten(fields map[string]any) string {
	var b strings.Builder
	flattenInto(&b, fields, 0)
	return strings.TrimRight(b.String(), "\n")
}

func flattenInto(b *strings.Builder, fields map[string]any, depth int) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	indent := strings.Repeat("  ", depth)
	for _, k := range keys {
		switch v := fields[k].(type) {
		case map[string]any:
			fmt.Fprintf(b, "%s%s:\n", indent, k)
			flattenInto(b, v, depth+1)
		case []any:
			fmt.Fprintf(b, "%s%s:\n", indent, k)
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					flattenInto(b, m, depth+1)
					continue
				}
				fmt.Fprintf(b, "%s  - %s\n", indent, scalar(item))
			}
		default:
			fmt.Fprintf(b, "%s%s: %s\n", indent, k, scalar(v))
		}
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// SplitText packs whitespace-separated words into chunks of at most
// maxLen characters, joined by single spaces.
func SplitText(text string, maxLen int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	for _, w := range words {
		if current.Len() > 0 && current.Len()+1+len(w) > maxLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
