// CLAUDE:SUMMARY SQLite persistence for domselect: one JSON profile document per domain plus a bounded history of sanitized DOM snapshots.
// Package store is the durable side of domselect. Nothing here is on the
// analysis path: profiles are written by the flusher and read once at
// startup, snapshots are appended by RecordSnapshot.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/selres/dbopen"
	"github.com/hazyhaar/selres/domselect/internal/selector"
	"github.com/hazyhaar/selres/idgen"
)

// Schema is the DDL of the domselect database.
const Schema = `
-- One profile document per domain, in its published JSON format.
CREATE TABLE IF NOT EXISTS profiles (
    domain     TEXT PRIMARY KEY,
    document   TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Sanitized page HTML used to resample selectors over time.
CREATE TABLE IF NOT EXISTS snapshots (
    id          TEXT PRIMARY KEY,
    domain      TEXT NOT NULL,
    page_url    TEXT NOT NULL DEFAULT '',
    html        TEXT NOT NULL,
    html_hash   TEXT NOT NULL,
    captured_at INTEGER NOT NULL,
    UNIQUE (domain, html_hash)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_domain ON snapshots(domain, captured_at DESC);
`

// Store is the domselect database handle.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Open opens (or creates) the database at path and applies Schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already opened database whose schema is applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("snap_", idgen.UUIDv7())}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SaveProfiles upserts every profile in one transaction. A profile without
// patterns deletes the domain's document instead.
func (s *Store) SaveProfiles(ctx context.Context, profiles []selector.Profile) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, p := range profiles {
			if p.Len() == 0 {
				if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE domain = ?`, p.Domain); err != nil {
					return fmt.Errorf("delete profile %s: %w", p.Domain, err)
				}
				continue
			}
			doc, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode profile %s: %w", p.Domain, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO profiles (domain, document, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(domain) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
				p.Domain, string(doc), p.UpdatedAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("save profile %s: %w", p.Domain, err)
			}
		}
		return nil
	})
}

// DeleteProfile removes a domain's document.
func (s *Store) DeleteProfile(ctx context.Context, domain string) error {
	_, err := dbopen.Exec(ctx, s.DB, `DELETE FROM profiles WHERE domain = ?`, domain)
	return err
}

// GetProfile loads one document; ok is false when the domain has none.
func (s *Store) GetProfile(ctx context.Context, domain string) (selector.Profile, bool, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT document FROM profiles WHERE domain = ?`, domain).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return selector.Profile{}, false, nil
	}
	if err != nil {
		return selector.Profile{}, false, err
	}
	p, err := decodeProfile(doc)
	if err != nil {
		return selector.Profile{}, false, fmt.Errorf("decode profile %s: %w", domain, err)
	}
	return p, true, nil
}

// LoadProfiles reads every document. Undecodable documents are skipped and
// reported in the returned error list so a corrupt row cannot block
// startup.
func (s *Store) LoadProfiles(ctx context.Context) ([]selector.Profile, []error, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT domain, document FROM profiles ORDER BY domain`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		out []selector.Profile
		bad []error
	)
	for rows.Next() {
		var domain, doc string
		if err := rows.Scan(&domain, &doc); err != nil {
			return nil, nil, err
		}
		p, err := decodeProfile(doc)
		if err != nil {
			bad = append(bad, fmt.Errorf("decode profile %s: %w", domain, err))
			continue
		}
		p.Domain = domain
		out = append(out, p)
	}
	return out, bad, rows.Err()
}

func decodeProfile(doc string) (selector.Profile, error) {
	var p selector.Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return p, err
	}
	for _, t := range selector.Tiers {
		if list := p.List(t); *list == nil {
			*list = []selector.WeightedPattern{}
		}
	}
	return p, nil
}

// Snapshot is one stored page capture.
type Snapshot struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	PageURL    string    `json:"page_url,omitempty"`
	HTML       string    `json:"-"`
	HTMLHash   string    `json:"html_hash"`
	CapturedAt time.Time `json:"captured_at"`
}

// AddSnapshot stores snap unless the domain already holds the same HTML,
// then prunes the domain to its keep most recent snapshots. It reports
// whether a row was inserted.
func (s *Store) AddSnapshot(ctx context.Context, snap *Snapshot, keep int) (bool, error) {
	if snap.ID == "" {
		snap.ID = s.newID()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	var inserted bool
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (id, domain, page_url, html, html_hash, captured_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(domain, html_hash) DO NOTHING`,
			snap.ID, snap.Domain, snap.PageURL, snap.HTML, snap.HTMLHash, snap.CapturedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		if keep <= 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM snapshots WHERE domain = ? AND id NOT IN (
				SELECT id FROM snapshots WHERE domain = ?
				ORDER BY captured_at DESC, id DESC LIMIT ?)`,
			snap.Domain, snap.Domain, keep,
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("add snapshot %s: %w", snap.Domain, err)
	}
	return inserted, nil
}

// ListSnapshots returns up to limit snapshots of a domain, newest first.
// An empty domain lists every domain.
func (s *Store) ListSnapshots(ctx context.Context, domain string, limit int) ([]Snapshot, error) {
	q := `SELECT id, domain, page_url, html, html_hash, captured_at FROM snapshots`
	var args []any
	if domain != "" {
		q += ` WHERE domain = ?`
		args = append(args, domain)
	}
	q += ` ORDER BY domain, captured_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		var at int64
		if err := rows.Scan(&sn.ID, &sn.Domain, &sn.PageURL, &sn.HTML, &sn.HTMLHash, &at); err != nil {
			return nil, err
		}
		sn.CapturedAt = time.UnixMilli(at).UTC()
		out = append(out, sn)
	}
	return out, rows.Err()
}

// DeleteSnapshots removes every snapshot of a domain.
func (s *Store) DeleteSnapshots(ctx context.Context, domain string) error {
	_, err := dbopen.Exec(ctx, s.DB, `DELETE FROM snapshots WHERE domain = ?`, domain)
	return err
}
