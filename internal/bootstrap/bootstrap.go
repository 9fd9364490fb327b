// Package bootstrap builds the shared service graph from configuration for
// the API server and the batch jobs.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/aggregate"
	"github.com/civic-sage/backend/internal/analysis"
	"github.com/civic-sage/backend/internal/anonymise"
	cacheredis "github.com/civic-sage/backend/internal/cache/redis"
	"github.com/civic-sage/backend/internal/charts"
	"github.com/civic-sage/backend/internal/classify"
	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/llm"
	"github.com/civic-sage/backend/internal/readability"
	"github.com/civic-sage/backend/internal/retrieval"
	"github.com/civic-sage/backend/internal/search/web"
	"github.com/civic-sage/backend/internal/session"
	"github.com/civic-sage/backend/internal/storage"
	storeredis "github.com/civic-sage/backend/internal/storage/redis"
	"github.com/civic-sage/backend/internal/storage/sqlite"
	"github.com/civic-sage/backend/internal/vector/zilliz"
	"github.com/civic-sage/backend/pkg/config"
	"github.com/civic-sage/backend/pkg/logger"
)

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Closer collects cleanup functions and runs them in reverse order.
type Closer struct {
	fns []func()
}

func (c *Closer) Add(fn func()) { c.fns = append(c.fns, fn) }

func (c *Closer) Close() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
}

func Redis(cfg *config.Config, closer *Closer) (*cacheredis.Client, error) {
	c, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	closer.Add(func() { _ = c.Close() })
	return c, nil
}

func SQLite(cfg *config.Config, closer *Closer) (*sqlite.Client, error) {
	c, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	closer.Add(func() { _ = c.Close() })
	if err := c.InitSchema(); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordStore opens the configured session and report store. rdb is only
// used by the redis backend; db only by the sqlite one.
func RecordStore(cfg *config.Config, rdb *cacheredis.Client, db *sqlite.Client) (storage.RecordStore, error) {
	switch cfg.Storage.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis record store needs a redis connection")
		}
		return storeredis.NewStore(rdb.Raw()), nil
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite record store needs a database")
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// ChartStore writes and reads chart tables.
type ChartStore interface {
	charts.Sink
	charts.Reader
}

func Charts(cfg *config.Config, rdb *cacheredis.Client) (ChartStore, error) {
	switch cfg.Aggregation.Sink {
	case "csv":
		return charts.NewFileSink(cfg.Aggregation.ChartDir), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis chart sink needs a redis connection")
		}
		return charts.NewRedisSink(rdb.Raw()), nil
	}
	return nil, fmt.Errorf("unknown chart sink %q", cfg.Aggregation.Sink)
}

// Geography loads officials and wards from the YAML file or the graph.
func Geography(ctx context.Context, cfg *config.Config, closer *Closer) (geo.Store, error) {
	if cfg.Geography.Source == "neo4j" {
		s, err := Neo4j(cfg, closer)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	s, err := geo.LoadFile(cfg.Geography.File)
	if err != nil {
		return nil, err
	}
	officials, _ := s.Officials(ctx)
	logger.Info("Geography loaded", zap.String("file", cfg.Geography.File), zap.Int("officials", len(officials)))
	return s, nil
}

func Neo4j(cfg *config.Config, closer *Closer) (*geo.Neo4jStore, error) {
	s, err := geo.NewNeo4jStore(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		return nil, err
	}
	closer.Add(func() { _ = s.Close(context.Background()) })
	return s, nil
}

func Location(cfg *config.Config) (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Aggregation.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Aggregation.Timezone, err)
	}
	return loc, nil
}

// LLM builds the model client and, when search is enabled, attaches the
// web tool backed by SerpAPI or DuckDuckGo.
func LLM(cfg *config.Config) *llm.Client {
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        seconds(cfg.LLM.TimeoutSec),
		WebResults:     cfg.Search.MaxResults,
	})

	if cfg.Search.Enabled {
		searcher := web.NewClient(web.Config{
			SerpAPIKey: cfg.Search.SerpAPIKey,
			Timeout:    seconds(cfg.Search.TimeoutSec),
		}).WithQueryRewriter(client.OptimizeSearchQuery)
		client.AttachWebSearch(searcher)
	}
	return client
}

func Vectors(ctx context.Context, cfg *config.Config, closer *Closer) (*zilliz.Client, error) {
	z, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
	if err != nil {
		return nil, err
	}
	closer.Add(func() { _ = z.Close() })
	if err := z.CreateCollection(ctx); err != nil {
		return nil, err
	}
	return z, nil
}

// Orchestrator wires retrieval (with the embedding cache when rdb is set)
// and generation into a dialogue orchestrator.
func Orchestrator(cfg *config.Config, client *llm.Client, vectors *zilliz.Client, rdb *cacheredis.Client) *dialogue.Orchestrator {
	var cache retrieval.EmbeddingCache
	if rdb != nil {
		cache = rdb
	}
	return dialogue.NewOrchestrator(dialogue.Deps{
		Retriever:  retrieval.New(client, vectors, cache, 24*time.Hour),
		Generator:  client,
		RetrievalK: cfg.Dialogue.RetrievalK,
	})
}

// Aggregator builds the monthly runner. The lease is used when rdb is set.
func Aggregator(cfg *config.Config, records aggregate.RecordSource, geography geo.Store, sink charts.Sink, rdb *cacheredis.Client) (*aggregate.Runner, error) {
	loc, err := Location(cfg)
	if err != nil {
		return nil, err
	}
	agg := aggregate.New(
		aggregate.WithLocation(loc),
		aggregate.WithKeywordLimits(cfg.Aggregation.KeywordsPerDoc, cfg.Aggregation.KeywordsPerWeek),
		aggregate.WithKeywordShape(cfg.Aggregation.KeywordMaxNgram, cfg.Aggregation.KeywordDedupe),
		aggregate.WithExtraStopwords(cfg.Aggregation.ExtraStopwords...),
	)
	runner := aggregate.NewRunner(agg, records, geography, sink)
	if rdb != nil {
		runner.WithLease(rdb, time.Duration(cfg.Aggregation.LeaseTTLMin)*time.Minute)
	}
	return runner, nil
}

// Analyser builds the post-session pipeline. The geocoder result cache is
// used when rdb is set.
func Analyser(cfg *config.Config, records storage.RecordStore, rdb *cacheredis.Client) (*analysis.Analyser, *anonymise.Anonymiser, error) {
	loc, err := Location(cfg)
	if err != nil {
		return nil, nil, err
	}

	geocoder := geo.NewPostcodesIO(cfg.Geocoder.BaseURL, seconds(cfg.Geocoder.TimeoutSec))
	if rdb != nil {
		geocoder.WithCache(rdb, time.Duration(cfg.Geocoder.CacheTTLMin)*time.Minute)
	}

	classifier := classify.NewHTTPClassifier(cfg.Classifier.Endpoint, cfg.Classifier.APIKey, seconds(cfg.Classifier.TimeoutSec))
	anon := anonymise.New(anonymise.NewProseDetector(), nil)

	a := analysis.New(analysis.Deps{
		Anonymiser:  anon,
		Geocoder:    geocoder,
		Scorer:      classify.NewScorer(classifier, 0),
		Readability: readability.Flesch{},
		Store:       records,
		Location:    loc,
	})
	return a, anon, nil
}

// Sessions assembles the session manager on top of an orchestrator.
func Sessions(cfg *config.Config, orch session.Asker, records storage.RecordStore, geography geo.Store, rdb *cacheredis.Client) (*session.Manager, error) {
	analyser, anon, err := Analyser(cfg, records, rdb)
	if err != nil {
		return nil, err
	}
	return session.NewManager(session.Config{
		WindowSize:     cfg.Dialogue.WindowSize,
		ReportLookback: cfg.Dialogue.ReportLookback,
		TurnTimeout:    seconds(cfg.Dialogue.TurnTimeoutSec),
		IdleTimeout:    time.Duration(cfg.Session.IdleTimeoutMin) * time.Minute,
	}, session.Deps{
		Orchestrator: orch,
		Analyser:     analyser,
		Anonymiser:   anon,
		Reports:      records,
		Geography:    geography,
	}), nil
}
