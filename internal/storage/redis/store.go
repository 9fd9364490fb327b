// Package redis stores session records and message reports in sorted sets
// keyed by official and scored by timestamp.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/storage"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return nil
}

func sessionsKey(official string) string { return "sessions:" + official }
func reportsKey(official string) string  { return "reports:" + official }

// put claims the record ID, then adds the payload to the official's set. The
// claim is released when the add fails so the write can be retried.
func (s *Store) put(ctx context.Context, kind, id, setKey string, at time.Time, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	claim := kind + ":id:" + id
	ok, err := s.client.SetNX(ctx, claim, setKey, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim %s %s: %w", kind, id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", storage.ErrDuplicateRecord, kind, id)
	}

	err = s.client.ZAdd(ctx, setKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		if delErr := s.client.Del(context.WithoutCancel(ctx), claim).Err(); delErr != nil {
			logger.Warn("Failed to release record claim", zap.String("key", claim), zap.Error(delErr))
		}
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}
	return nil
}

func (s *Store) rangeByScore(ctx context.Context, key string, from, to time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
}

func (s *Store) PutSession(ctx context.Context, rec *models.SessionRecord) error {
	if err := s.put(ctx, "session", rec.ID, sessionsKey(rec.Official), rec.StartedAt, rec); err != nil {
		return err
	}
	logger.Info("Session recorded", zap.String("session_id", rec.ID), zap.String("official", rec.Official))
	return nil
}

func (s *Store) SessionsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.SessionRecord, error) {
	members, err := s.rangeByScore(ctx, sessionsKey(official), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	records := make([]models.SessionRecord, 0, len(members))
	for _, m := range members {
		var rec models.SessionRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			logger.Warn("Skipping undecodable session record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) PutReport(ctx context.Context, rep *models.MessageReport) error {
	return s.put(ctx, "report", rep.ID, reportsKey(rep.Official), rep.ReportedAt, rep)
}

func (s *Store) ReportsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.MessageReport, error) {
	members, err := s.rangeByScore(ctx, reportsKey(official), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}

	reports := make([]models.MessageReport, 0, len(members))
	for _, m := range members {
		var rep models.MessageReport
		if err := json.Unmarshal([]byte(m), &rep); err != nil {
			logger.Warn("Skipping undecodable report", zap.Error(err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
