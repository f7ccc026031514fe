// internal/agent/lessons.go
package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quayside/browserpilot/internal/config"
)

// LessonStore persists the optional "lesson" takeaways the decision engine
// emits, keyed by page host, and serves them back when future prompts are
// built for the same host.
type LessonStore interface {
	Add(ctx context.Context, host, text string) error
	ForHost(ctx context.Context, host string) ([]string, error)
	Clear(ctx context.Context) error
}

// NewLessonStore acts as a factory selecting the configured backend.
func NewLessonStore(ctx context.Context, cfg config.LessonsConfig, logger *zap.Logger) (LessonStore, error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create lesson store pool: %w", err)
		}
		return NewPostgresLessonStore(ctx, pool, cfg.MaxPerHost, logger)
	case "in-memory", "":
		return NewMemoryLessonStore(cfg.MaxPerHost, logger), nil
	default:
		return nil, fmt.Errorf("unknown lessons backend %q", cfg.Backend)
	}
}

// HostOf extracts the lesson key from a page URL. Unparseable URLs key under
// an empty host, which the store treats as global.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// -- In-memory backend --

type memoryLessonStore struct {
	logger  *zap.Logger
	maxHost int

	mu      sync.RWMutex
	perHost map[string][]string
}

// NewMemoryLessonStore returns the default process-local backend.
func NewMemoryLessonStore(maxPerHost int, logger *zap.Logger) LessonStore {
	if maxPerHost <= 0 {
		maxPerHost = 20
	}
	return &memoryLessonStore{
		logger:  logger.Named("lessons"),
		maxHost: maxPerHost,
		perHost: make(map[string][]string),
	}
}

func (m *memoryLessonStore) Add(ctx context.Context, host, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lessons := append(m.perHost[host], text)
	if len(lessons) > m.maxHost {
		lessons = lessons[len(lessons)-m.maxHost:]
	}
	m.perHost[host] = lessons
	m.logger.Debug("Lesson recorded.", zap.String("host", host), zap.Int("count", len(lessons)))
	return nil
}

func (m *memoryLessonStore) ForHost(ctx context.Context, host string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lessons := m.perHost[host]
	out := make([]string, len(lessons))
	copy(out, lessons)
	return out, nil
}

func (m *memoryLessonStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perHost = make(map[string][]string)
	return nil
}

// -- Postgres backend --

type postgresLessonStore struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	maxHost int
}

const lessonsSchema = `
CREATE TABLE IF NOT EXISTS lessons (
	id         BIGSERIAL PRIMARY KEY,
	host       TEXT NOT NULL,
	lesson     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS lessons_host_idx ON lessons (host, created_at DESC);`

// NewPostgresLessonStore ensures the schema exists and wraps the pool.
func NewPostgresLessonStore(ctx context.Context, pool *pgxpool.Pool, maxPerHost int, logger *zap.Logger) (LessonStore, error) {
	if maxPerHost <= 0 {
		maxPerHost = 20
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(initCtx, lessonsSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure lessons schema: %w", err)
	}
	return &postgresLessonStore{
		pool:    pool,
		logger:  logger.Named("lessons.postgres"),
		maxHost: maxPerHost,
	}, nil
}

func (p *postgresLessonStore) Add(ctx context.Context, host, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO lessons (host, lesson) VALUES ($1, $2)`, host, text)
	if err != nil {
		return fmt.Errorf("failed to insert lesson: %w", err)
	}
	return nil
}

func (p *postgresLessonStore) ForHost(ctx context.Context, host string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT lesson FROM lessons WHERE host = $1 ORDER BY created_at DESC LIMIT $2`,
		host, p.maxHost)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lesson query iteration failed: %w", err)
	}
	// Oldest first, matching the in-memory backend's ordering.
	for i, j := 0, len(lessons)-1; i < j; i, j = i+1, j-1 {
		lessons[i], lessons[j] = lessons[j], lessons[i]
	}
	return lessons, nil
}

func (p *postgresLessonStore) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM lessons`); err != nil {
		return fmt.Errorf("failed to clear lessons: %w", err)
	}
	return nil
}
