package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/logger"
)

// SqliteConfig configures the embedded SQL backend.
type SqliteConfig struct {
	Path        string
	MultiTable  string
	CdcTable    string
	SingleTable string
	MetaTable   string
	Compression cdc.Compression
	// BusyTimeoutMs is handed to sqlite's busy_timeout pragma.
	BusyTimeoutMs int
	Logger        *logger.Logger
}

func DefaultSqliteConfig(path string) SqliteConfig {
	return SqliteConfig{
		Path:          path,
		MultiTable:    "multi",
		CdcTable:      "cdc",
		SingleTable:   "single",
		MetaTable:     "meta",
		Compression:   cdc.CompressionLZ4,
		BusyTimeoutMs: 5000,
	}
}

type SqliteOption func(*SqliteConfig)

func WithSqliteCompression(c cdc.Compression) SqliteOption {
	return func(cfg *SqliteConfig) { cfg.Compression = c }
}

func WithSqliteLogger(l *logger.Logger) SqliteOption {
	return func(cfg *SqliteConfig) { cfg.Logger = l }
}

func WithSqliteTablePrefix(prefix string) SqliteOption {
	return func(cfg *SqliteConfig) {
		cfg.MultiTable = prefix + cfg.MultiTable
		cfg.CdcTable = prefix + cfg.CdcTable
		cfg.SingleTable = prefix + cfg.SingleTable
		cfg.MetaTable = prefix + cfg.MetaTable
	}
}

// Sqlite stores version chains in one table keyed by (key, inverted version);
// a NULL value is a tombstone.
type Sqlite struct {
	cfg     SqliteConfig
	db      *sql.DB
	codec   *cdc.Codec
	writeMu sync.Mutex
	single  *SingleVersion
	logger  *logger.Logger
}

func OpenSqlite(ctx context.Context, cfg SqliteConfig, opts ...SqliteOption) (*Sqlite, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Noop()
	}
	c, err := cdc.NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.NewIoError(string(KindSqlite), "open", err)
	}

	s := &Sqlite{
		cfg:    cfg,
		db:     db,
		codec:  c,
		logger: cfg.Logger.WithBackend(string(KindSqlite)),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.single, err = NewSingleVersion(s); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sqlite) migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			key BLOB NOT NULL,
			version BLOB NOT NULL,
			value BLOB,
			PRIMARY KEY (key, version)
		) WITHOUT ROWID`, s.cfg.MultiTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			version INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (version, seq)
		) WITHOUT ROWID`, s.cfg.CdcTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			key BLOB NOT NULL PRIMARY KEY,
			value BLOB NOT NULL
		) WITHOUT ROWID`, s.cfg.SingleTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			name TEXT NOT NULL PRIMARY KEY,
			value INTEGER NOT NULL
		)`, s.cfg.MetaTable),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return core.NewIoError(string(KindSqlite), "migrate", err)
		}
	}
	return nil
}

func (s *Sqlite) Kind() Kind { return KindSqlite }

func (s *Sqlite) Single() *SingleVersion { return s.single }

func (s *Sqlite) Close() error {
	return core.NewIoError(string(KindSqlite), "close", s.db.Close())
}

func versionParam(v core.CommitVersion) []byte {
	return codec.AppendVersionSuffix(nil, v)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Sqlite) get(ctx context.Context, q queryer, key []byte, version core.CommitVersion) (core.Entry, bool, error) {
	// inverted versions: "at or below V" is ">= ^V", newest first is ascending
	query := fmt.Sprintf(`SELECT version, value, value IS NULL FROM %q WHERE key = ? AND version >= ? ORDER BY version ASC LIMIT 1`,
		s.cfg.MultiTable)
	var stored, value []byte
	var isNull bool
	err := q.QueryRowContext(ctx, query, key, versionParam(version)).Scan(&stored, &value, &isNull)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, core.NewIoError(string(KindSqlite), "get", err)
	}
	return core.Entry{Key: bytes.Clone(key), Version: codec.DecodeVersionSuffix(stored), Value: liveValue(value, isNull)}, true, nil
}

func liveValue(value []byte, isNull bool) []byte {
	if isNull {
		return nil
	}
	if value == nil {
		return []byte{}
	}
	return value
}

func (s *Sqlite) Get(key []byte, version core.CommitVersion) (core.Entry, bool, error) {
	return s.get(context.Background(), s.db, key, version)
}

func (s *Sqlite) ScanBatch(r codec.KeyRange, version core.CommitVersion, reverse bool, limit int) ([]core.Entry, bool, error) {
	var where []string
	args := []any{versionParam(version)}
	bound := func(op string, key []byte) {
		args = append(args, key)
		where = append(where, fmt.Sprintf("m.key %s ?%d", op, len(args)))
	}
	switch r.Start.Kind {
	case codec.Included:
		bound(">=", r.Start.Key)
	case codec.Excluded:
		bound(">", r.Start.Key)
	}
	switch r.End.Kind {
	case codec.Included:
		bound("<=", r.End.Key)
	case codec.Excluded:
		bound("<", r.End.Key)
	}
	where = append(where, fmt.Sprintf(
		"m.version = (SELECT MIN(version) FROM %q WHERE key = m.key AND version >= ?1)", s.cfg.MultiTable))

	order := "ASC"
	if reverse {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT m.key, m.version, m.value, m.value IS NULL FROM %q m WHERE %s ORDER BY m.key %s LIMIT %d`,
		s.cfg.MultiTable, strings.Join(where, " AND "), order, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, false, core.NewIoError(string(KindSqlite), "scan", err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		var key, stored, value []byte
		var isNull bool
		if err := rows.Scan(&key, &stored, &value, &isNull); err != nil {
			return nil, false, core.NewIoError(string(KindSqlite), "scan", err)
		}
		out = append(out, core.Entry{Key: key, Version: codec.DecodeVersionSuffix(stored), Value: liveValue(value, isNull)})
	}
	if err := rows.Err(); err != nil {
		return nil, false, core.NewIoError(string(KindSqlite), "scan", err)
	}
	if len(out) > limit {
		return out[:limit], true, nil
	}
	return out, false, nil
}

func (s *Sqlite) Commit(ctx context.Context, version core.CommitVersion, deltas []core.Delta, timestamp uint64) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.NewIoError(string(KindSqlite), "begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := cdc.Build(version, timestamp, deltas, func(key []byte) ([]byte, bool, error) {
		entry, ok, err := s.get(ctx, tx, key, version-1)
		if err != nil || !ok || entry.IsTombstone() {
			return nil, false, err
		}
		return entry.Value, true, nil
	})
	if err != nil {
		return err
	}

	insertMulti := fmt.Sprintf(`INSERT OR REPLACE INTO %q (key, version, value) VALUES (?, ?, ?)`, s.cfg.MultiTable)
	for _, delta := range deltas {
		var value any
		if !delta.IsRemove() {
			value = nonNil(delta.Value)
		}
		if _, err = tx.ExecContext(ctx, insertMulti, delta.Key, versionParam(version), value); err != nil {
			return core.NewIoError(string(KindSqlite), "commit", err)
		}
	}

	insertCdc := fmt.Sprintf(`INSERT INTO %q (version, seq, ts, payload) VALUES (?, ?, ?, ?)`, s.cfg.CdcTable)
	for _, change := range record.Changes {
		payload, encErr := s.codec.EncodeChange(change.Change)
		if encErr != nil {
			return encErr
		}
		if _, err = tx.ExecContext(ctx, insertCdc, int64(version), int64(change.Sequence), int64(timestamp), payload); err != nil {
			return core.NewIoError(string(KindSqlite), "commit", err)
		}
	}

	upsertMeta := fmt.Sprintf(`INSERT INTO %q (name, value) VALUES ('last_version', ?)
		ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)`, s.cfg.MetaTable)
	if _, err = tx.ExecContext(ctx, upsertMeta, int64(version)); err != nil {
		return core.NewIoError(string(KindSqlite), "commit", err)
	}

	if err = tx.Commit(); err != nil {
		return core.NewIoError(string(KindSqlite), "commit", err)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (s *Sqlite) Compact(ctx context.Context, below core.CommitVersion) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// rows below have an inverted version greater than ^below
	query := fmt.Sprintf(`DELETE FROM %[1]q WHERE version > ?1 AND (
		value IS NULL OR
		version > (SELECT MIN(m2.version) FROM %[1]q m2 WHERE m2.key = %[1]q.key AND m2.version > ?1)
	)`, s.cfg.MultiTable)
	res, err := s.db.ExecContext(ctx, query, versionParam(below))
	if err != nil {
		return 0, core.NewIoError(string(KindSqlite), "compact", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Sqlite) LastVersion() (core.CommitVersion, error) {
	var last sql.NullInt64
	query := fmt.Sprintf(`SELECT value FROM %q WHERE name = 'last_version'`, s.cfg.MetaTable)
	err := s.db.QueryRow(query).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, core.NewIoError(string(KindSqlite), "last version", err)
	}
	return core.CommitVersion(last.Int64), nil
}

func (s *Sqlite) CdcGet(version core.CommitVersion) (cdc.Cdc, bool, error) {
	records, _, err := s.CdcScanBatch(cdc.VersionRange{Start: cdc.Included(version), End: cdc.Included(version)}, 1)
	if err != nil || len(records) == 0 {
		return cdc.Cdc{}, false, err
	}
	return records[0], true, nil
}

func (s *Sqlite) CdcScanBatch(r cdc.VersionRange, limit int) ([]cdc.Cdc, bool, error) {
	if r.IsEmpty() {
		return nil, false, nil
	}
	lo, hi := clampInt64(r.Lo()), clampInt64(r.Hi())
	query := fmt.Sprintf(`SELECT version, seq, ts, payload FROM %[1]q
		WHERE version IN (SELECT DISTINCT version FROM %[1]q WHERE version >= ? AND version <= ? ORDER BY version LIMIT %[2]d)
		ORDER BY version, seq`, s.cfg.CdcTable, limit+1)
	rows, err := s.db.Query(query, lo, hi)
	if err != nil {
		return nil, false, core.NewIoError(string(KindSqlite), "cdc scan", err)
	}
	defer rows.Close()

	var out []cdc.Cdc
	for rows.Next() {
		var version, seq, ts int64
		var payload []byte
		if err := rows.Scan(&version, &seq, &ts, &payload); err != nil {
			return nil, false, core.NewIoError(string(KindSqlite), "cdc scan", err)
		}
		change, err := s.codec.DecodeChange(payload)
		if err != nil {
			return nil, false, core.NewIoError(string(KindSqlite), "cdc decode", err)
		}
		if len(out) == 0 || out[len(out)-1].Version != core.CommitVersion(version) {
			out = append(out, cdc.Cdc{Version: core.CommitVersion(version), Timestamp: uint64(ts)})
		}
		last := &out[len(out)-1]
		last.Changes = append(last.Changes, cdc.SequencedChange{Sequence: uint16(seq), Change: change})
	}
	if err := rows.Err(); err != nil {
		return nil, false, core.NewIoError(string(KindSqlite), "cdc scan", err)
	}
	if len(out) > limit {
		return out[:limit], true, nil
	}
	return out, false, nil
}

func clampInt64(v core.CommitVersion) int64 {
	if v > core.CommitVersion(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(v)
}

func (s *Sqlite) CdcCount(version core.CommitVersion) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE version = ?`, s.cfg.CdcTable)
	if err := s.db.QueryRow(query, int64(version)).Scan(&count); err != nil {
		return 0, core.NewIoError(string(KindSqlite), "cdc count", err)
	}
	return count, nil
}

func (s *Sqlite) CdcDropBefore(ctx context.Context, version core.CommitVersion) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int
	countQuery := fmt.Sprintf(`SELECT COUNT(DISTINCT version) FROM %q WHERE version < ?`, s.cfg.CdcTable)
	if err := s.db.QueryRowContext(ctx, countQuery, clampInt64(version)).Scan(&count); err != nil {
		return 0, core.NewIoError(string(KindSqlite), "cdc drop", err)
	}
	query := fmt.Sprintf(`DELETE FROM %q WHERE version < ?`, s.cfg.CdcTable)
	if _, err := s.db.ExecContext(ctx, query, clampInt64(version)); err != nil {
		return 0, core.NewIoError(string(KindSqlite), "cdc drop", err)
	}
	return count, nil
}

func (s *Sqlite) LoadSingle() ([]core.Pair[[]byte, []byte], error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT key, value FROM %q ORDER BY key`, s.cfg.SingleTable))
	if err != nil {
		return nil, core.NewIoError(string(KindSqlite), "load single", err)
	}
	defer rows.Close()

	var out []core.Pair[[]byte, []byte]
	for rows.Next() {
		var pair core.Pair[[]byte, []byte]
		if err := rows.Scan(&pair.Key, &pair.Val); err != nil {
			return nil, core.NewIoError(string(KindSqlite), "load single", err)
		}
		pair.Val = nonNil(pair.Val)
		out = append(out, pair)
	}
	return out, core.NewIoError(string(KindSqlite), "load single", rows.Err())
}

func (s *Sqlite) PersistSingle(key, value []byte, remove bool) error {
	var err error
	if remove {
		_, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %q WHERE key = ?`, s.cfg.SingleTable), key)
	} else {
		_, err = s.db.Exec(fmt.Sprintf(`INSERT OR REPLACE INTO %q (key, value) VALUES (?, ?)`, s.cfg.SingleTable), key, nonNil(value))
	}
	return core.NewIoError(string(KindSqlite), "persist single", err)
}
