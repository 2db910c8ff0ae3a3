// Package query exposes the read-time merge view over the chunk lake. The
// lake itself is only parquet files at deterministic keys; DuckDB supplies
// the dedup semantics when someone asks for current state.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/omicslake/sra-mirror-lake/logging"
)

// SessionConfig configures one DuckDB session over the lake.
type SessionConfig struct {
	// LakePath is the base location holding the entity chunk prefixes,
	// either a local directory or an object-store URL.
	LakePath string
	// MemoryLimit caps DuckDB memory, e.g. "4GB". Empty leaves the
	// engine default.
	MemoryLimit string
	// TempDir is where DuckDB spills when it exceeds the memory limit.
	TempDir string
	// Threads limits query parallelism. Zero leaves the engine default.
	Threads int
}

// Session is an in-memory DuckDB connection prepared to read the lake.
type Session struct {
	db     *sql.DB
	config SessionConfig
	logger *logging.ComponentLogger
}

// NewSession opens and initializes a DuckDB session.
func NewSession(ctx context.Context, config SessionConfig, logger *logging.ComponentLogger) (*Session, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	s := &Session{db: db, config: config, logger: logger}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize loads extensions and applies resource limits. Remote lakes need
// httpfs; local directories do not.
func (s *Session) initialize(ctx context.Context) error {
	if isRemotePath(s.config.LakePath) {
		if _, err := s.db.ExecContext(ctx, "INSTALL httpfs;"); err != nil {
			return fmt.Errorf("failed to install httpfs extension: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, "LOAD httpfs;"); err != nil {
			return fmt.Errorf("failed to load httpfs extension: %w", err)
		}
	}

	if s.config.MemoryLimit != "" {
		stmt := fmt.Sprintf("SET memory_limit = '%s';", s.config.MemoryLimit)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set memory limit: %w", err)
		}
	}
	if s.config.TempDir != "" {
		stmt := fmt.Sprintf("SET temp_directory = '%s';", s.config.TempDir)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set temp directory: %w", err)
		}
	}
	if s.config.Threads > 0 {
		stmt := fmt.Sprintf("SET threads = %d;", s.config.Threads)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set thread limit: %w", err)
		}
	}

	s.logger.Debug().
		Str("lake", s.config.LakePath).
		Msg("DuckDB session initialized")
	return nil
}

// DB exposes the underlying connection for ad hoc queries.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Close releases the session.
func (s *Session) Close() error {
	return s.db.Close()
}

func isRemotePath(path string) bool {
	for _, scheme := range []string{"s3://", "http://", "https://", "gs://", "r2://"} {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}
