package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/storage"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_records (
		id TEXT PRIMARY KEY,
		official TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		session_date TEXT NOT NULL,
		constituency TEXT NOT NULL,
		payload TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_official_started ON session_records(official, started_at);

	CREATE TABLE IF NOT EXISTS message_reports (
		id TEXT PRIMARY KEY,
		official TEXT NOT NULL,
		session_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		reported_at INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_official_reported ON message_reports(official, reported_at);

	CREATE TABLE IF NOT EXISTS knowledge_documents (
		id TEXT PRIMARY KEY,
		official TEXT NOT NULL,
		title TEXT NOT NULL,
		source_url TEXT,
		chunk_count INTEGER NOT NULL,
		ingested_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_official ON knowledge_documents(official);

	CREATE TABLE IF NOT EXISTS evaluation_results (
		id TEXT PRIMARY KEY,
		suite TEXT NOT NULL,
		official TEXT NOT NULL,
		question TEXT NOT NULL,
		verdict TEXT,
		attempts INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_eval_suite ON evaluation_results(suite, created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func duplicate(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (c *Client) PutSession(ctx context.Context, rec *models.SessionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO session_records (id, official, started_at, session_date, constituency, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Official,
		rec.StartedAt.UnixMilli(),
		rec.SessionDate,
		rec.Location.Constituency,
		string(payload),
		rec.RecordedAt.UnixMilli(),
	)
	if duplicate(err) {
		return fmt.Errorf("%w: session %s", storage.ErrDuplicateRecord, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert session record: %w", err)
	}

	logger.Info("Session recorded",
		zap.String("session_id", rec.ID),
		zap.String("official", rec.Official),
		zap.Int("user_messages", rec.UserMessageCount),
	)
	return nil
}

func (c *Client) SessionsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.SessionRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, payload FROM session_records
		WHERE official = ? AND started_at >= ? AND started_at < ?
		ORDER BY started_at
	`, official, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []models.SessionRecord
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var rec models.SessionRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			logger.Warn("Skipping undecodable session record", zap.String("session_id", id), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (c *Client) PutReport(ctx context.Context, rep *models.MessageReport) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO message_reports (id, official, session_id, turn_index, reported_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rep.ID,
		rep.Official,
		rep.SessionID,
		rep.TurnIndex,
		rep.ReportedAt.UnixMilli(),
		string(payload),
	)
	if duplicate(err) {
		return fmt.Errorf("%w: report %s", storage.ErrDuplicateRecord, rep.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	logger.Info("Message report stored",
		zap.String("report_id", rep.ID),
		zap.String("official", rep.Official),
		zap.Strings("tags", rep.Tags),
	)
	return nil
}

func (c *Client) ReportsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.MessageReport, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, payload FROM message_reports
		WHERE official = ? AND reported_at >= ? AND reported_at < ?
		ORDER BY reported_at
	`, official, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []models.MessageReport
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var rep models.MessageReport
		if err := json.Unmarshal([]byte(payload), &rep); err != nil {
			logger.Warn("Skipping undecodable report", zap.String("report_id", id), zap.Error(err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// UpsertDocument records that a knowledge document was (re)ingested.
func (c *Client) UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument, chunks int) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO knowledge_documents (id, official, title, source_url, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source_url = excluded.source_url,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at
	`, doc.ID, doc.Official, doc.Title, doc.SourceURL, chunks, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	logger.Debug("Document registered", zap.String("doc_id", doc.ID), zap.Int("chunks", chunks))
	return nil
}

// DocumentCount returns how many documents an official's knowledge base holds.
func (c *Client) DocumentCount(ctx context.Context, official string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_documents WHERE official = ?`, official).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (c *Client) InsertEvaluationResult(ctx context.Context, r *models.EvaluationResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation result: %w", err)
	}

	passed := 0
	if r.Passed {
		passed = 1
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO evaluation_results (id, suite, official, question, verdict, attempts, passed, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Suite, r.Official, r.Question, r.Verdict, r.Attempts, passed, string(payload), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert evaluation result: %w", err)
	}
	return nil
}

// PassRate reports passed and total cases of a suite's results.
func (c *Client) PassRate(ctx context.Context, suite string) (passed, total int, err error) {
	err = c.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(passed), 0), COUNT(*) FROM evaluation_results WHERE suite = ?
	`, suite).Scan(&passed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute pass rate: %w", err)
	}
	return passed, total, nil
}
