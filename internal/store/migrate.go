package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	Name    string
	Content string
	Hash    string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		h := sha256.Sum256(b)
		out = append(out, migration{Name: e.Name(), Content: string(b), Hash: hex.EncodeToString(h[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  name       TEXT PRIMARY KEY,
  sha256     TEXT NOT NULL,
  applied_at TIMESTAMP NOT NULL
)`)
	return err
}

// Migrate applies every embedded migration that has not been recorded yet,
// each in its own transaction, and returns the names it applied. A recorded
// migration whose content changed is an error.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	migs, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migs {
		var existingHash string
		err := s.db.QueryRowContext(ctx, `SELECT sha256 FROM schema_migrations WHERE name = $1`, m.Name).Scan(&existingHash)
		if err == nil {
			if existingHash != m.Hash {
				return applied, fmt.Errorf("migration %s hash mismatch (db=%s fs=%s)", m.Name, existingHash, m.Hash)
			}
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return applied, fmt.Errorf("check %s: %w", m.Name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.Content); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("apply %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (name, sha256, applied_at) VALUES ($1, $2, $3)`,
			m.Name, m.Hash, s.now()); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("record %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}
