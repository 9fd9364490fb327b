package zilliz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

const (
	fieldChunkID    = "chunk_id"
	fieldEmbedding  = "embedding"
	fieldText       = "text"
	fieldSourceURL  = "source_url"
	fieldNamespace  = "namespace"
	fieldDocID      = "doc_id"
	fieldIngestedAt = "ingested_at"
)

// Client stores knowledge-base chunks for every official in one collection,
// partitioned logically by the namespace field.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type SearchResult struct {
	ChunkID   string
	Text      string
	SourceURL string
	Namespace string
	Score     float32
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxLen)},
	}
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	chunkID := varchar(fieldChunkID, 64)
	chunkID.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Knowledge base passages per official",
		Fields: []*entity.Field{
			chunkID,
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", z.vectorDim)},
			},
			varchar(fieldText, 4096),
			varchar(fieldSourceURL, 1024),
			varchar(fieldNamespace, 256),
			varchar(fieldDocID, 64),
			{Name: fieldIngestedAt, DataType: entity.FieldTypeInt64},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func (z *Client) Insert(ctx context.Context, chunks []models.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	urls := make([]string, len(chunks))
	namespaces := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	ingested := make([]int64, len(chunks))

	now := time.Now().Unix()
	for i, chunk := range chunks {
		if len(chunk.Embedding) != z.vectorDim {
			return fmt.Errorf("chunk %s has %d dims, collection expects %d", chunk.ID, len(chunk.Embedding), z.vectorDim)
		}
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = truncate(chunk.Text, 4096)
		urls[i] = truncate(chunk.SourceURL, 1024)
		namespaces[i] = chunk.Namespace
		docIDs[i] = chunk.DocID
		ingested[i] = now
	}

	_, err := z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldChunkID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSourceURL, urls),
		entity.NewColumnVarChar(fieldNamespace, namespaces),
		entity.NewColumnVarChar(fieldDocID, docIDs),
		entity.NewColumnInt64(fieldIngestedAt, ingested),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))

	return nil
}

// DeleteNamespace removes every chunk of one official, used before a full
// re-ingest.
func (z *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := z.client.Delete(ctx, z.collectionName, "", NamespaceExpr(namespace)); err != nil {
		return fmt.Errorf("failed to delete namespace %q: %w", namespace, err)
	}
	return nil
}

func (z *Client) Search(ctx context.Context, queryEmbedding []float32, namespace string, topK int) ([]SearchResult, error) {
	expr := NamespaceExpr(namespace)

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		[]string{fieldChunkID, fieldText, fieldSourceURL, fieldNamespace},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			results = append(results, SearchResult{
				ChunkID:   columnString(sr.Fields.GetColumn(fieldChunkID), i),
				Text:      columnString(sr.Fields.GetColumn(fieldText), i),
				SourceURL: columnString(sr.Fields.GetColumn(fieldSourceURL), i),
				Namespace: columnString(sr.Fields.GetColumn(fieldNamespace), i),
				Score:     sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)

	return results, nil
}

// NamespaceExpr builds the boolean filter selecting one official's chunks.
func NamespaceExpr(namespace string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(namespace)
	return fmt.Sprintf(`%s == "%s"`, fieldNamespace, escaped)
}

func columnString(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
