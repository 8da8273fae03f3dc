package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/franciscozunigap/sofinance/internal/errs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps documents as JSON rows in a single table. Transactions
// map onto SQLite transactions, which serialize writers; that satisfies the
// isolation the ledger needs.
type SQLiteStore struct {
	db *sql.DB

	pollInterval time.Duration
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a pool of connections only produces
	// SQLITE_BUSY under transaction load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, pollInterval: time.Second}, nil
}

func runMigrations(dbPath string) error {
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	return getRow(ctx, s.db, collection, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRow(ctx context.Context, q rowQuerier, collection, id string) (Document, bool, error) {
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&data)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Data: data}, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, data any) error {
	raw, err := marshal(data)
	if err != nil {
		return err
	}
	return setRow(ctx, s.db, collection, id, raw)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setRow(ctx context.Context, e execer, collection, id string, raw []byte) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, raw, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	return s.RunTransaction(ctx, func(tx Tx) error {
		return tx.Update(collection, id, patch)
	})
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		ok, err := matchDocument(doc.Data, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return sortAndLimit(docs, q), nil
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) Get(collection, id string) (Document, bool, error) {
	return getRow(t.ctx, t.tx, collection, id)
}

func (t *sqliteTx) Set(collection, id string, data any) error {
	raw, err := marshal(data)
	if err != nil {
		return err
	}
	return setRow(t.ctx, t.tx, collection, id, raw)
}

func (t *sqliteTx) Update(collection, id string, patch map[string]any) error {
	doc, ok, err := t.Get(collection, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, errs.ErrNotFound)
	}
	merged, err := applyPatch(doc.Data, patch)
	if err != nil {
		return err
	}
	return setRow(t.ctx, t.tx, collection, id, merged)
}

func (s *SQLiteStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Subscribe polls the row for changes. SQLite has no change feed; one-second
// polling is plenty for a single-user cache refresh.
func (s *SQLiteStore) Subscribe(collection, id string, fn func(Document)) (func(), error) {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		var last string
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				doc, ok, err := s.Get(context.Background(), collection, id)
				if err != nil || !ok {
					continue
				}
				if string(doc.Data) != last {
					last = string(doc.Data)
					fn(doc)
				}
			}
		}
	}()
	var once func()
	done := false
	once = func() {
		if !done {
			done = true
			close(stop)
		}
	}
	return once, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
