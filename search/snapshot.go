package search

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Snapshot is the persisted state of an Orchestrator.
type Snapshot struct {
	Index           IndexSnapshot        `json:"index"`
	Cache           ListingCacheSnapshot `json:"cache"`
	DirectoryConfig DirectoryConfig      `json:"directoryConfig"`
	Stats           SearchStats          `json:"stats"`
	LastIndexTime   time.Time            `json:"lastIndexTime"`
}

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at INTEGER NOT NULL,
    files      INTEGER NOT NULL DEFAULT 0,
    payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SnapshotStore keeps orchestrator snapshots in a SQLite database.
type SnapshotStore struct {
	db *sql.DB
}

// OpenSnapshotStore opens (or creates) the snapshot database at path.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := openDBAt(path)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{db: db}, nil
}

func openDBAt(dbPath string) (*sql.DB, error) {
	l := sub("db")
	l.Info("opening snapshot database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	l.Debug("pragmas applied", "journal_mode", "WAL", "busy_timeout", 5000)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	l := sub("db")
	var version int
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		// no meta table or no row: fresh database
		if _, execErr := db.Exec(schema); execErr != nil {
			return fmt.Errorf("create schema: %w", execErr)
		}
		_, execErr := db.Exec("INSERT INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion)
		if execErr != nil {
			return fmt.Errorf("set schema version: %w", execErr)
		}
		l.Info("schema created", "version", schemaVersion)
		return nil
	}

	if version < schemaVersion {
		l.Info("schema upgrading", "from", version, "to", schemaVersion)
		if version < 2 {
			if err := migrateV1toV2(db); err != nil {
				return fmt.Errorf("migrate v1→v2: %w", err)
			}
			l.Info("migrated v1→v2")
		}
	} else {
		l.Debug("schema up to date", slog.Int("version", version))
	}
	return nil
}

// migrateV1toV2 adds the files column used for listing snapshots without
// decoding their payload.
func migrateV1toV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		`ALTER TABLE snapshots ADD COLUMN files INTEGER NOT NULL DEFAULT 0`,
		`UPDATE meta SET value = '2' WHERE key = 'schema_version'`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	ID        int64
	CreatedAt time.Time
	Files     int
}

// Save stores snap and returns its id.
func (s *SnapshotStore) Save(snap Snapshot) (int64, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	res, err := s.db.Exec(
		"INSERT INTO snapshots (created_at, files, payload) VALUES (?, ?, ?)",
		nowFunc().UnixNano(), len(snap.Index.Files), string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}
	sub("db").Info("snapshot saved", "id", id, "files", len(snap.Index.Files), "bytes", len(payload))
	return id, nil
}

// Latest returns the most recent snapshot. ok is false when none is stored.
func (s *SnapshotStore) Latest() (snap Snapshot, ok bool, err error) {
	var payload string
	err = s.db.QueryRow("SELECT payload FROM snapshots ORDER BY id DESC LIMIT 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("query latest snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// List returns the stored snapshots, newest first.
func (s *SnapshotStore) List() ([]SnapshotInfo, error) {
	rows, err := s.db.Query("SELECT id, created_at, files FROM snapshots ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var created int64
		if err := rows.Scan(&info.ID, &created, &info.Files); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.CreatedAt = time.Unix(0, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (s *SnapshotStore) Prune(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.Exec(
		"DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)", keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		sub("db").Info("snapshots pruned", "removed", n, "kept", keep)
	}
	return n, nil
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
