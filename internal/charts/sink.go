package charts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/pkg/logger"
)

var ErrTableNotFound = errors.New("chart table not found")

type Sink interface {
	Write(ctx context.Context, official string, t *Table) error
}

type Reader interface {
	Read(ctx context.Context, official, name string) (*Table, error)
}

// FileSink writes <dir>/<official>/<table>.csv.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) path(official, name string) string {
	return filepath.Join(s.dir, official, name+".csv")
}

func (s *FileSink) Write(_ context.Context, official string, t *Table) error {
	data, err := t.MarshalCSV()
	if err != nil {
		return err
	}

	path := s.path(official, t.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create chart dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", t.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", t.Name, err)
	}

	logger.Debug("Chart table written", zap.String("path", path), zap.Int("rows", len(t.Rows)))
	return nil
}

func (s *FileSink) Read(_ context.Context, official, name string) (*Table, error) {
	data, err := os.ReadFile(s.path(official, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrTableNotFound, official, name)
	}
	if err != nil {
		return nil, err
	}
	return ParseCSV(name, data)
}

// RedisSink stores each table's CSV under charts:<official>:<table>.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func chartKey(official, name string) string {
	return "charts:" + official + ":" + name
}

func (s *RedisSink) Write(ctx context.Context, official string, t *Table) error {
	data, err := t.MarshalCSV()
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, chartKey(official, t.Name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", t.Name, err)
	}
	return nil
}

func (s *RedisSink) Read(ctx context.Context, official, name string) (*Table, error) {
	data, err := s.client.Get(ctx, chartKey(official, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s", ErrTableNotFound, official, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return ParseCSV(name, data)
}
