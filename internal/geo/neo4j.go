package geo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/circuitbreaker"
	"github.com/civic-sage/backend/pkg/logger"
	"github.com/civic-sage/backend/pkg/retry"
)

// Neo4jStore keeps the geography as a graph:
// (:Official)-[:REPRESENTS]->(:Constituency)-[:CONTAINS]->(:Ward).
type Neo4jStore struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewNeo4jStore(uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j geography store initialized", zap.String("uri", uri), zap.String("database", database))

	return &Neo4jStore{
		driver:   driver,
		database: database,
		cb: circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          20 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.Named("neo4j"),
			OnStateChange:    metrics.BreakerStateChanged,
		}),
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       3 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.Named("neo4j"),
		},
	}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.cb.Execute(ctx, func() error {
		return retry.Do(ctx, s.retryConfig, func() error {
			session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// Seed merges a static geography into the graph. Running it twice is safe.
func (s *Neo4jStore) Seed(ctx context.Context, g *Static) error {
	for _, c := range g.Constituencies {
		err := s.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
			_, err := session.Run(ctx, `
				MERGE (c:Constituency {name: $name})
				SET c.code = $code
			`, map[string]any{"name": c.Name, "code": c.Code})
			if err != nil {
				return fmt.Errorf("failed to merge constituency: %w", err)
			}

			for i, w := range c.Wards {
				_, err := session.Run(ctx, `
					MATCH (c:Constituency {name: $constituency})
					MERGE (w:Ward {code: $code})
					SET w.name = $name
					MERGE (c)-[r:CONTAINS]->(w)
					SET r.position = $position
				`, map[string]any{
					"constituency": c.Name,
					"code":         w.Code,
					"name":         w.Name,
					"position":     i,
				})
				if err != nil {
					return fmt.Errorf("failed to merge ward %s: %w", w.Name, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, o := range g.OfficialList {
		err := s.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
			_, err := session.Run(ctx, `
				MATCH (c:Constituency {name: $constituency})
				MERGE (o:Official {name: $name})
				MERGE (o)-[:REPRESENTS]->(c)
			`, map[string]any{"name": o.Name, "constituency": o.Constituency})
			if err != nil {
				return fmt.Errorf("failed to merge official: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	logger.Info("Geography seeded",
		zap.Int("constituencies", len(g.Constituencies)),
		zap.Int("officials", len(g.OfficialList)),
	)
	return nil
}

func (s *Neo4jStore) Officials(ctx context.Context) ([]models.Official, error) {
	var officials []models.Official

	err := s.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		officials = officials[:0]
		result, err := session.Run(ctx, `
			MATCH (o:Official)-[:REPRESENTS]->(c:Constituency)
			RETURN o.name AS name, c.name AS constituency, c.code AS code
			ORDER BY o.name
		`, nil)
		if err != nil {
			return fmt.Errorf("failed to list officials: %w", err)
		}

		for result.Next(ctx) {
			officials = append(officials, officialFromRecord(result.Record()))
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return officials, nil
}

func (s *Neo4jStore) Official(ctx context.Context, name string) (models.Official, error) {
	var (
		official models.Official
		found    bool
	)

	err := s.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, `
			MATCH (o:Official)-[:REPRESENTS]->(c:Constituency)
			WHERE toLower(o.name) = $name
			RETURN o.name AS name, c.name AS constituency, c.code AS code
			LIMIT 1
		`, map[string]any{"name": strings.ToLower(strings.TrimSpace(name))})
		if err != nil {
			return fmt.Errorf("failed to get official: %w", err)
		}
		if result.Next(ctx) {
			official, found = officialFromRecord(result.Record()), true
		}
		return result.Err()
	})
	if err != nil {
		return models.Official{}, err
	}
	if !found {
		return models.Official{}, fmt.Errorf("%w: %s", ErrUnknownOfficial, name)
	}
	return official, nil
}

func (s *Neo4jStore) Wards(ctx context.Context, constituency string) ([]models.Ward, error) {
	var wards []models.Ward

	err := s.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		wards = wards[:0]
		result, err := session.Run(ctx, `
			MATCH (:Constituency {name: $constituency})-[r:CONTAINS]->(w:Ward)
			RETURN w.name AS name, w.code AS code
			ORDER BY r.position
		`, map[string]any{"constituency": constituency})
		if err != nil {
			return fmt.Errorf("failed to list wards: %w", err)
		}

		for result.Next(ctx) {
			rec := result.Record()
			wards = append(wards, models.Ward{
				Name: recordString(rec, "name"),
				Code: recordString(rec, "code"),
			})
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(wards) == 0 {
		return nil, fmt.Errorf("no wards for constituency %q", constituency)
	}

	logger.Debug("Wards loaded from graph", zap.String("constituency", constituency), zap.Int("wards", len(wards)))
	return wards, nil
}

func officialFromRecord(rec *neo4j.Record) models.Official {
	return models.Official{
		Name:             recordString(rec, "name"),
		Constituency:     recordString(rec, "constituency"),
		ConstituencyCode: recordString(rec, "code"),
	}
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}
