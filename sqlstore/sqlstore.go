// Package sqlstore implements feed.Store directly against a relational
// database through bun. PostgreSQL and SQLite are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/madfeed/feed-service/feed"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store provides storage in a relational database. Every WithinTx call runs
// in a database transaction.
type Store struct {
	bun bun.IDB
	db  *bun.DB
}

// Connect connects to PostgreSQL, pings the server to ensure the connection
// is working and creates missing tables.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return open(ctx, bun.NewDB(sqlDB, pgdialect.New()))
}

// OpenSQLite opens or creates the SQLite database at path, along with its
// parent directories, and creates missing tables.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; transactions hold the only connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return open(ctx, bun.NewDB(sqlDB, sqlitedialect.New()))
}

func open(ctx context.Context, db *bun.DB) (*Store, error) {
	s := &Store{bun: db, db: db}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.bun.NewCreateTable().Model(t.model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		if t.index == "" {
			continue
		}
		_, err := s.bun.NewCreateIndex().
			Model(t.model).
			Index(t.name + "_" + t.index + "_idx").
			Column(t.index).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", t.name, err)
		}
	}
	return nil
}

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindTime
)

type table struct {
	name    string
	model   any
	columns map[string]columnKind
	index   string // column to index, if any
}

var tables = map[string]table{
	feed.TablePosts: {
		name:    feed.TablePosts,
		model:   (*post)(nil),
		columns: map[string]columnKind{"id": kindText, "userid": kindText, "content": kindText, "date": kindTime},
		index:   "userid",
	},
	feed.TableAttachments: {
		name:    feed.TableAttachments,
		model:   (*attachment)(nil),
		columns: map[string]columnKind{"id": kindText, "postid": kindText, "type": kindText, "position": kindInt, "minio_id": kindText},
		index:   "postid",
	},
	feed.TableComments: {
		name:    feed.TableComments,
		model:   (*comment)(nil),
		columns: map[string]columnKind{"id": kindText, "postid": kindText, "userid": kindText, "content": kindText, "date": kindTime},
		index:   "postid",
	},
	feed.TablePostReactions: {
		name:    feed.TablePostReactions,
		model:   (*postReaction)(nil),
		columns: map[string]columnKind{"postid": kindText, "userid": kindText, "reaction": kindText},
	},
	feed.TableCommentReactions: {
		name:    feed.TableCommentReactions,
		model:   (*commentReaction)(nil),
		columns: map[string]columnKind{"commentid": kindText, "userid": kindText, "reaction": kindText},
	},
}

func lookup(name string) (table, error) {
	t, ok := tables[name]
	if !ok {
		return table{}, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

// value converts a row value to the Go type of its column.
func (t table) value(col, v string) (any, error) {
	kind, ok := t.columns[col]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", col)
	}
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		return n, nil
	case kindTime:
		tm, err := feed.ParseTime(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		return tm, nil
	}
	return v, nil
}

// Create inserts rec into the table.
func (s *Store) Create(ctx context.Context, name string, rec feed.Row) error {
	t, err := lookup(name)
	if err != nil {
		return &feed.StoreError{Op: "create", Table: name, Err: err}
	}
	values := make(map[string]interface{}, len(rec))
	for col, v := range rec {
		if values[col], err = t.value(col, v); err != nil {
			return &feed.StoreError{Op: "create", Table: name, Err: err}
		}
	}
	if _, err := s.bun.NewInsert().Model(&values).TableExpr("?", bun.Ident(t.name)).Exec(ctx); err != nil {
		return &feed.StoreError{Op: "create", Table: name, Err: fmt.Errorf("insert: %w", err)}
	}
	return nil
}

// ReadMany returns the rows matching every filter.
func (s *Store) ReadMany(ctx context.Context, name string, filters feed.Row) ([]feed.Row, error) {
	t, err := lookup(name)
	if err != nil {
		return nil, &feed.StoreError{Op: "read", Table: name, Err: err}
	}

	q := s.bun.NewSelect().Model(t.model)
	for _, col := range sortedKeys(filters) {
		v, err := t.value(col, filters[col])
		if err != nil {
			return nil, &feed.StoreError{Op: "read", Table: name, Err: err}
		}
		q = q.Where("? = ?", bun.Ident(col), v)
	}

	var raw []map[string]interface{}
	if err := q.Scan(ctx, &raw); err != nil {
		return nil, &feed.StoreError{Op: "read", Table: name, Err: fmt.Errorf("scan: %w", err)}
	}
	out := make([]feed.Row, len(raw))
	for i, r := range raw {
		row := make(feed.Row, len(r))
		for col, v := range r {
			row[col] = t.text(col, v)
		}
		out[i] = row
	}
	return out, nil
}

// Delete removes the rows matching condition, which must be a conjunction
// of "column = ?" terms.
func (s *Store) Delete(ctx context.Context, name, condition string, params ...string) error {
	_, err := s.DeleteCount(ctx, name, condition, params...)
	return err
}

// DeleteCount is Delete reporting how many rows were removed.
func (s *Store) DeleteCount(ctx context.Context, name, condition string, params ...string) (int64, error) {
	t, err := lookup(name)
	if err != nil {
		return 0, &feed.StoreError{Op: "delete", Table: name, Err: err}
	}
	terms := strings.Split(condition, " AND ")
	if len(terms) != len(params) {
		return 0, &feed.StoreError{Op: "delete", Table: name, Err: fmt.Errorf("condition %q takes %d params, got %d", condition, len(terms), len(params))}
	}

	q := s.bun.NewDelete().Model(t.model)
	for i, term := range terms {
		col, ok := strings.CutSuffix(strings.TrimSpace(term), " = ?")
		if !ok {
			return 0, &feed.StoreError{Op: "delete", Table: name, Err: fmt.Errorf("unsupported condition term %q", term)}
		}
		col = strings.TrimSpace(col)
		v, err := t.value(col, params[i])
		if err != nil {
			return 0, &feed.StoreError{Op: "delete", Table: name, Err: err}
		}
		q = q.Where("? = ?", bun.Ident(col), v)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, &feed.StoreError{Op: "delete", Table: name, Err: fmt.Errorf("delete: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &feed.StoreError{Op: "delete", Table: name, Err: fmt.Errorf("rows affected: %w", err)}
	}
	return n, nil
}

// WithinTx runs fn in a transaction. The transaction is rolled back if fn
// fails or ctx is canceled.
func (s *Store) WithinTx(ctx context.Context, fn func(feed.Store) error) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&Store{bun: tx, db: s.db})
	})
}

// text renders a scanned value as a row value. Drivers disagree on whether
// time columns come back as time.Time or text.
func (t table) text(col string, v interface{}) string {
	s := stringify(v)
	if t.columns[col] != kindTime {
		return s
	}
	if tm, err := feed.ParseTime(s); err == nil {
		return feed.FormatTime(tm)
	}
	return s
}

func stringify(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return feed.FormatTime(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

func sortedKeys(r feed.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
