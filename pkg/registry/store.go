package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
)

// Store persists registry records and the blocklist in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path and runs
// pending migrations. ":memory:" gives a private in-memory database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", errors.ErrRegistryStore, path, err)
	}
	// One connection keeps writes serialized and :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", errors.ErrRegistryStore, path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("Registry store opened", logger.Fields{"path": path})
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", errors.ErrRegistryStore, err)
	}
	return nil
}

func (s *Store) migrate() error {
	const createMigrations = `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(createMigrations); err != nil {
		return fmt.Errorf("%w: create migrations table: %w", errors.ErrRegistryStore, err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("%w: read schema version: %w", errors.ErrRegistryStore, err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE resources (
					content_id TEXT PRIMARY KEY,
					metadata_hash TEXT NOT NULL,
					url TEXT NOT NULL,
					file_name TEXT,
					size INTEGER DEFAULT 0,
					sha256 TEXT,
					piece_length INTEGER DEFAULT 0,
					pieces TEXT,
					trust INTEGER DEFAULT 0,
					confirmations INTEGER DEFAULT 0,
					schema_version TEXT NOT NULL,
					fetched_at DATETIME,
					verified_at DATETIME
				);

				CREATE INDEX idx_resources_metadata_hash ON resources(metadata_hash);

				CREATE TABLE blocklist (
					content_id TEXT PRIMARY KEY,
					reason TEXT NOT NULL,
					blocked_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			version: 2,
			sql: `
				ALTER TABLE resources ADD COLUMN first_seen DATETIME;
				ALTER TABLE resources ADD COLUMN known_names TEXT;
				ALTER TABLE resources ADD COLUMN handler_metadata TEXT;
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("%w: begin migration %d: %w", errors.ErrRegistryStore, m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: apply migration %d: %w", errors.ErrRegistryStore, m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: record migration %d: %w", errors.ErrRegistryStore, m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit migration %d: %w", errors.ErrRegistryStore, m.version, err)
		}
		logger.Debug("Applied registry migration", logger.Fields{"version": m.version})
	}
	return nil
}

// SaveResource inserts or replaces a record.
func (s *Store) SaveResource(m *ResourceMetadata) error {
	const query = `
		INSERT OR REPLACE INTO resources (
			content_id, metadata_hash, url, file_name, size, sha256, piece_length,
			pieces, trust, confirmations, schema_version, fetched_at, verified_at,
			first_seen, known_names, handler_metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	pieces, err := json.Marshal(m.Digest.Pieces)
	if err != nil {
		return fmt.Errorf("%w: encode pieces: %w", errors.ErrRegistryStore, err)
	}
	names, err := json.Marshal(m.KnownNames)
	if err != nil {
		return fmt.Errorf("%w: encode known names: %w", errors.ErrRegistryStore, err)
	}
	handler, err := json.Marshal(m.HandlerMetadata)
	if err != nil {
		return fmt.Errorf("%w: encode handler metadata: %w", errors.ErrRegistryStore, err)
	}
	_, err = s.db.Exec(query,
		m.ContentID, m.MetadataHash(), m.URL, m.FileName, m.Digest.Size, m.Digest.SHA256,
		m.Digest.PieceLength, string(pieces), int(m.Trust), m.Confirmations, m.SchemaVersion,
		m.FetchedAt, m.VerifiedAt, m.FirstSeen, string(names), string(handler),
	)
	if err != nil {
		return fmt.Errorf("%w: save %s: %w", errors.ErrRegistryStore, m.ContentID, err)
	}
	return nil
}

// DeleteResource removes a record. Missing records are ignored.
func (s *Store) DeleteResource(contentID string) error {
	if _, err := s.db.Exec("DELETE FROM resources WHERE content_id = ?", contentID); err != nil {
		return fmt.Errorf("%w: delete %s: %w", errors.ErrRegistryStore, contentID, err)
	}
	return nil
}

// LoadResources returns every stored record in content id order.
func (s *Store) LoadResources() ([]*ResourceMetadata, error) {
	const query = `
		SELECT content_id, url, file_name, size, sha256, piece_length, pieces,
		       trust, confirmations, schema_version, fetched_at, verified_at,
		       first_seen, known_names, handler_metadata
		FROM resources ORDER BY content_id
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("%w: query resources: %w", errors.ErrRegistryStore, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ResourceMetadata
	for rows.Next() {
		var (
			m          ResourceMetadata
			fileName   sql.NullString
			sum        sql.NullString
			pieces     sql.NullString
			trust      int
			fetchedAt  sql.NullTime
			verifiedAt sql.NullTime
			firstSeen  sql.NullTime
			names      sql.NullString
			handler    sql.NullString
		)
		if err := rows.Scan(&m.ContentID, &m.URL, &fileName, &m.Digest.Size, &sum, &m.Digest.PieceLength,
			&pieces, &trust, &m.Confirmations, &m.SchemaVersion, &fetchedAt, &verifiedAt,
			&firstSeen, &names, &handler); err != nil {
			return nil, fmt.Errorf("%w: scan resource: %w", errors.ErrRegistryStore, err)
		}
		m.FileName = fileName.String
		m.Digest.SHA256 = sum.String
		m.Trust = TrustLevel(trust)
		m.FetchedAt = fetchedAt.Time
		m.VerifiedAt = verifiedAt.Time
		m.FirstSeen = firstSeen.Time
		for _, col := range []struct {
			name string
			raw  sql.NullString
			into any
		}{
			{"pieces", pieces, &m.Digest.Pieces},
			{"known names", names, &m.KnownNames},
			{"handler metadata", handler, &m.HandlerMetadata},
		} {
			if col.raw.String == "" {
				continue
			}
			if err := json.Unmarshal([]byte(col.raw.String), col.into); err != nil {
				return nil, fmt.Errorf("%w: decode %s of %s: %w", errors.ErrRegistryStore, col.name, m.ContentID, err)
			}
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate resources: %w", errors.ErrRegistryStore, err)
	}
	return out, nil
}

// SaveBlock records a blocked content id.
func (s *Store) SaveBlock(contentID, reason string) error {
	const query = `INSERT OR REPLACE INTO blocklist (content_id, reason, blocked_at) VALUES (?, ?, ?)`
	if _, err := s.db.Exec(query, contentID, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: block %s: %w", errors.ErrRegistryStore, contentID, err)
	}
	return nil
}

// DeleteBlock removes a content id from the blocklist.
func (s *Store) DeleteBlock(contentID string) error {
	if _, err := s.db.Exec("DELETE FROM blocklist WHERE content_id = ?", contentID); err != nil {
		return fmt.Errorf("%w: unblock %s: %w", errors.ErrRegistryStore, contentID, err)
	}
	return nil
}

// LoadBlocks returns the blocklist as content id to reason.
func (s *Store) LoadBlocks() (map[string]string, error) {
	rows, err := s.db.Query("SELECT content_id, reason FROM blocklist")
	if err != nil {
		return nil, fmt.Errorf("%w: query blocklist: %w", errors.ErrRegistryStore, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, reason string
		if err := rows.Scan(&id, &reason); err != nil {
			return nil, fmt.Errorf("%w: scan blocklist: %w", errors.ErrRegistryStore, err)
		}
		out[id] = reason
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate blocklist: %w", errors.ErrRegistryStore, err)
	}
	return out, nil
}
