package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rushteam/dropfeed/core"
)

// SQLStore 是 sqlite 实现的持久化存储：缓存兜底表、曝光表、反馈表与只读目录表。
// 时间统一以 unix 毫秒存储。
type SQLStore struct {
	db *sql.DB
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS feed_cache (
	key TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS impressions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	rec_version INTEGER NOT NULL,
	rec_type TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT,
	target_key TEXT,
	rank INTEGER NOT NULL,
	explain TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_impressions_seen
	ON impressions (user_id, role, target_type, rec_version, created_at);

CREATE TABLE IF NOT EXISTS feedback_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	impression_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	value REAL NOT NULL DEFAULT 0,
	action TEXT NOT NULL DEFAULT '',
	meta TEXT NOT NULL DEFAULT '{}',
	rec_version INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_user
	ON feedback_events (user_id, created_at);

CREATE TABLE IF NOT EXISTS drops (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL DEFAULT '',
	shop_slug TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	brand TEXT NOT NULL DEFAULT '',
	size TEXT NOT NULL DEFAULT '',
	condition TEXT NOT NULL DEFAULT '',
	price REAL NOT NULL DEFAULT 0,
	image_url TEXT,
	cover_url TEXT,
	photos TEXT,
	tags TEXT,
	popularity REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'published',
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS shops (
	slug TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	logo_url TEXT,
	banner_url TEXT,
	buy_rate REAL NOT NULL DEFAULT 0,
	drops_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS shop_tags (
	shop_slug TEXT NOT NULL,
	tag TEXT NOT NULL,
	item_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (shop_slug, tag)
);

CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	image_url TEXT,
	image TEXT,
	tags TEXT,
	shop_slug TEXT NOT NULL DEFAULT '',
	popularity REAL NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL DEFAULT 0
);
`

// OpenSQL 打开 path 处的 sqlite 数据库并建表。
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// sqlite 单写者；串行化连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Name() string { return "sqlite" }

// Ping 检查数据库是否可用。
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// GetCache 读取缓存兜底表。不判断过期，返回 expires_at 由调用方判断。
func (s *SQLStore) GetCache(ctx context.Context, key string) ([]byte, time.Time, error) {
	var (
		payload   []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM feed_cache WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, core.ErrStoreNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("store: get cache %s: %w", key, err)
	}
	return payload, time.UnixMilli(expiresAt), nil
}

// PutCache 写入（覆盖）缓存兜底表。
func (s *SQLStore) PutCache(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_cache (key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, expiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: put cache %s: %w", key, err)
	}
	return nil
}

// PurgeExpiredCache 删除已过期的缓存行，返回删除数量。
func (s *SQLStore) PurgeExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feed_cache WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: purge cache: %w", err)
	}
	return res.RowsAffected()
}

// scanRawRows 将任意查询结果读成 []core.RawRow，列名即 key。
func scanRawRows(rows *sql.Rows) ([]core.RawRow, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []core.RawRow
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(core.RawRow, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

var (
	_ core.DurableCache    = (*SQLStore)(nil)
	_ core.ImpressionStore = (*SQLStore)(nil)
	_ core.FeedbackStore   = (*SQLStore)(nil)
	_ core.CatalogStore    = (*SQLStore)(nil)
	_ core.ShopOwnerLookup = (*SQLStore)(nil)
)
