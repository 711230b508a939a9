package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/storage"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS search_contexts (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner_kind TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	creator_id TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL DEFAULT 0,
	stopped BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE (owner_kind, owner_id, code)
);

CREATE TABLE IF NOT EXISTS configurations (
	context_id TEXT PRIMARY KEY REFERENCES search_contexts(id) ON DELETE CASCADE,
	search_string TEXT NOT NULL,
	keywords TEXT NOT NULL,
	data_type TEXT NOT NULL,
	advanced TEXT
);

CREATE TABLE IF NOT EXISTS plugins (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	type TEXT NOT NULL,
	location TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL,
	data_type TEXT NOT NULL DEFAULT '',
	is_default BOOLEAN NOT NULL DEFAULT 0,
	incompatible_with TEXT NOT NULL DEFAULT '[]',
	manipulation TEXT NOT NULL DEFAULT '',
	is_builtin BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE (kind, name)
);

CREATE TABLE IF NOT EXISTS data_objects (
	id TEXT PRIMARY KEY,
	context_id TEXT NOT NULL REFERENCES search_contexts(id) ON DELETE CASCADE,
	content_path TEXT NOT NULL,
	preview_path TEXT NOT NULL DEFAULT '',
	public_path TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	filtered BOOLEAN NOT NULL DEFAULT 0,
	classification TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	UNIQUE (context_id, content_path)
);

CREATE INDEX IF NOT EXISTS data_objects_context ON data_objects (context_id, filtered);

CREATE TABLE IF NOT EXISTS api_results (
	fetcher_id TEXT NOT NULL,
	params_key TEXT NOT NULL,
	result_path TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (fetcher_id, params_key)
);
`

// DSN builds a connection string for a database file with WAL journaling,
// foreign keys and a busy timeout.
func DSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// New creates a new SQLite-backed storage.Backend. A plain file path is
// expanded with DSN.
func New(dsn string) (storage.Backend, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = DSN(dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	// One writer; stages and the API share the connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func isUnique(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalOr(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- contexts ---

const contextColumns = `id, code, name, description, owner_kind, owner_id, status, created_at, creator_id, iterations, stopped`

func scanContext(row scanner) (*storage.SearchContext, error) {
	var sc storage.SearchContext
	var ownerKind, status string
	err := row.Scan(&sc.ID, &sc.Code, &sc.Name, &sc.Description, &ownerKind, &sc.Owner.ID,
		&status, &sc.CreatedAt, &sc.CreatorID, &sc.Iterations, &sc.Stopped)
	if err != nil {
		return nil, err
	}
	sc.Owner.Kind = storage.OwnerKind(ownerKind)
	sc.Status = lifecycle.Status(status)
	return &sc, nil
}

func (b *sqliteBackend) CreateContext(ctx context.Context, sc *storage.SearchContext) error {
	if sc.ID == "" {
		sc.ID = uuid.Must(uuid.NewV7()).String()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	if sc.Status == "" {
		sc.Status = lifecycle.StatusNotConfigured
	}

	_, err := b.db.ExecContext(ctx, `INSERT INTO search_contexts (`+contextColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Code, sc.Name, sc.Description, string(sc.Owner.Kind), sc.Owner.ID,
		string(sc.Status), sc.CreatedAt.UTC(), sc.CreatorID, sc.Iterations, sc.Stopped,
	)
	if isUnique(err) {
		return fmt.Errorf("context %s/%s: %w", sc.Owner, sc.Code, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *sqliteBackend) GetContext(ctx context.Context, id string) (*storage.SearchContext, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+contextColumns+` FROM search_contexts WHERE id = ?`, id)
	sc, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return sc, nil
}

func (b *sqliteBackend) GetContextByCode(ctx context.Context, owner storage.Owner, code string) (*storage.SearchContext, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+contextColumns+` FROM search_contexts
		WHERE owner_kind = ? AND owner_id = ? AND code = ?`, string(owner.Kind), owner.ID, code)
	sc, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("context %s/%s: %w", owner, code, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return sc, nil
}

func (b *sqliteBackend) ListContexts(ctx context.Context, filter storage.ContextFilter) ([]*storage.SearchContext, error) {
	query := `SELECT ` + contextColumns + ` FROM search_contexts WHERE 1=1`
	args := []any{}

	if filter.Owner != nil {
		query += ` AND owner_kind = ? AND owner_id = ?`
		args = append(args, string(filter.Owner.Kind), filter.Owner.ID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	query += ` ORDER BY created_at DESC, id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	var out []*storage.SearchContext
	for rows.Next() {
		sc, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return out, nil
}

func (b *sqliteBackend) TransitionStatus(ctx context.Context, id string, from, to lifecycle.Status) error {
	if err := lifecycle.Transition(from, to); err != nil {
		return err
	}

	res, err := b.db.ExecContext(ctx, `UPDATE search_contexts SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = b.db.QueryRowContext(ctx, `SELECT status FROM search_contexts WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return fmt.Errorf("context %s is %s, expected %s: %w", id, current, from, storage.ErrStatusConflict)
}

func (b *sqliteBackend) SetStopped(ctx context.Context, id string, stopped bool) error {
	res, err := b.db.ExecContext(ctx, `UPDATE search_contexts SET stopped = ? WHERE id = ?`, stopped, id)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (b *sqliteBackend) IncrementIterations(ctx context.Context, id string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`UPDATE search_contexts SET iterations = iterations + 1 WHERE id = ? RETURNING iterations`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return n, nil
}

func (b *sqliteBackend) DeleteContext(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM data_objects WHERE context_id = ?`,
		`DELETE FROM configurations WHERE context_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM search_contexts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

// --- configurations ---

func (b *sqliteBackend) SaveConfiguration(ctx context.Context, cfg *storage.Configuration) error {
	keywords, err := marshalOr(cfg.Keywords, "[]")
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	var advanced sql.NullString
	if cfg.Advanced != nil {
		data, err := json.Marshal(cfg.Advanced)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		advanced = sql.NullString{String: string(data), Valid: true}
	}

	_, err = b.db.ExecContext(ctx, `INSERT INTO configurations (context_id, search_string, keywords, data_type, advanced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (context_id) DO UPDATE SET
			search_string = excluded.search_string,
			keywords = excluded.keywords,
			data_type = excluded.data_type,
			advanced = excluded.advanced`,
		cfg.ContextID, cfg.SearchString, keywords, string(cfg.DataType), advanced,
	)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *sqliteBackend) GetConfiguration(ctx context.Context, contextID string) (*storage.Configuration, error) {
	var cfg storage.Configuration
	var keywords, dataType string
	var advanced sql.NullString

	err := b.db.QueryRowContext(ctx, `SELECT context_id, search_string, keywords, data_type, advanced
		FROM configurations WHERE context_id = ?`, contextID).
		Scan(&cfg.ContextID, &cfg.SearchString, &keywords, &dataType, &advanced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("configuration %s: %w", contextID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	cfg.DataType = storage.DataType(dataType)
	if err := json.Unmarshal([]byte(keywords), &cfg.Keywords); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	if advanced.Valid {
		cfg.Advanced = &storage.AdvancedConfiguration{}
		if err := json.Unmarshal([]byte(advanced.String), cfg.Advanced); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
	}
	return &cfg, nil
}

// --- plugins ---

const pluginColumns = `id, name, kind, type, location, description, active, data_type, is_default, incompatible_with, manipulation, is_builtin`

func scanPlugin(row scanner) (*storage.Plugin, error) {
	var p storage.Plugin
	var kind, typ, dataType, incompatible, manipulation string
	err := row.Scan(&p.ID, &p.Name, &kind, &typ, &p.Location, &p.Description, &p.Active,
		&dataType, &p.IsDefault, &incompatible, &manipulation, &p.IsBuiltin)
	if err != nil {
		return nil, err
	}
	p.Kind = storage.PluginKind(kind)
	p.Type = storage.PluginType(typ)
	p.DataType = storage.DataType(dataType)
	p.Manipulation = storage.Manipulation(manipulation)
	if err := json.Unmarshal([]byte(incompatible), &p.IncompatibleWith); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *sqliteBackend) UpsertPlugin(ctx context.Context, p *storage.Plugin) error {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	incompatible, err := marshalOr(p.IncompatibleWith, "[]")
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	var id string
	err = b.db.QueryRowContext(ctx, `INSERT INTO plugins (`+pluginColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, name) DO UPDATE SET
			type = excluded.type,
			location = excluded.location,
			description = excluded.description,
			active = excluded.active,
			data_type = excluded.data_type,
			is_default = excluded.is_default,
			incompatible_with = excluded.incompatible_with,
			manipulation = excluded.manipulation,
			is_builtin = excluded.is_builtin
		RETURNING id`,
		p.ID, p.Name, string(p.Kind), string(p.Type), p.Location, p.Description, p.Active,
		string(p.DataType), p.IsDefault, incompatible, string(p.Manipulation), p.IsBuiltin,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	p.ID = id
	return nil
}

func (b *sqliteBackend) GetPlugin(ctx context.Context, id string) (*storage.Plugin, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+pluginColumns+` FROM plugins WHERE id = ?`, id)
	p, err := scanPlugin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plugin %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return p, nil
}

func (b *sqliteBackend) ListPlugins(ctx context.Context, filter storage.PluginFilter) ([]*storage.Plugin, error) {
	query := `SELECT ` + pluginColumns + ` FROM plugins WHERE 1=1`
	args := []any{}

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY kind, name`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	var out []*storage.Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return out, nil
}

// --- data objects ---

const dataColumns = `id, context_id, content_path, preview_path, public_path, source_url, metadata, filtered, classification, created_at`

func scanDataObject(row scanner) (*storage.DataObject, error) {
	var o storage.DataObject
	var metadata, classification string
	err := row.Scan(&o.ID, &o.ContextID, &o.ContentPath, &o.PreviewPath, &o.PublicPath, &o.SourceURL,
		&metadata, &o.Filtered, &classification, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &o.Metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(classification), &o.Classification); err != nil {
		return nil, err
	}
	return &o, nil
}

func (b *sqliteBackend) InsertDataObjects(ctx context.Context, objs []*storage.DataObject) (int, error) {
	if len(objs) == 0 {
		return 0, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO data_objects (`+dataColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, o := range objs {
		if o.ID == "" {
			o.ID = uuid.Must(uuid.NewV7()).String()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now().UTC()
		}
		metadata, err := marshalOr(o.Metadata, "{}")
		if err != nil {
			return 0, fmt.Errorf("context: %w", err)
		}
		classification, err := marshalOr(o.Classification, "{}")
		if err != nil {
			return 0, fmt.Errorf("context: %w", err)
		}

		res, err := stmt.ExecContext(ctx, o.ID, o.ContextID, o.ContentPath, o.PreviewPath, o.PublicPath,
			o.SourceURL, metadata, o.Filtered, classification, o.CreatedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("context: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("context: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return inserted, nil
}

func dataWhere(contextID string, filter storage.DataFilter) (string, []any) {
	where := ` WHERE context_id = ?`
	args := []any{contextID}
	if filter.UnfilteredOnly {
		where += ` AND filtered = 0`
	}
	if len(filter.IDs) > 0 {
		where += ` AND id IN (` + placeholders(len(filter.IDs)) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	return where, args
}

func (b *sqliteBackend) ListDataObjects(ctx context.Context, contextID string, filter storage.DataFilter) ([]*storage.DataObject, error) {
	where, args := dataWhere(contextID, filter)
	rows, err := b.db.QueryContext(ctx, `SELECT `+dataColumns+` FROM data_objects`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	var out []*storage.DataObject
	for rows.Next() {
		o, err := scanDataObject(rows)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return out, nil
}

func (b *sqliteBackend) CountDataObjects(ctx context.Context, contextID string, filter storage.DataFilter) (int, error) {
	where, args := dataWhere(contextID, filter)
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_objects`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return n, nil
}

func (b *sqliteBackend) UpdateDataObject(ctx context.Context, o *storage.DataObject) error {
	metadata, err := marshalOr(o.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	res, err := b.db.ExecContext(ctx, `UPDATE data_objects
		SET content_path = ?, preview_path = ?, public_path = ?, metadata = ?, filtered = ?
		WHERE id = ?`,
		o.ContentPath, o.PreviewPath, o.PublicPath, metadata, o.Filtered, o.ID)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("data object %s: %w", o.ID, storage.ErrNotFound)
	}
	return nil
}

func (b *sqliteBackend) SetClassification(ctx context.Context, objectID, classifier string, result json.RawMessage) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT classification FROM data_objects WHERE id = ?`, objectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("data object %s: %w", objectID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	results := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	results[classifier] = result

	merged, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE data_objects SET classification = ? WHERE id = ?`, string(merged), objectID); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *sqliteBackend) DeleteDataObjects(ctx context.Context, contextID string, ids []string) ([]*storage.DataObject, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	removed, err := b.ListDataObjects(ctx, contextID, storage.DataFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	where, args := dataWhere(contextID, storage.DataFilter{IDs: ids})
	if _, err := b.db.ExecContext(ctx, `DELETE FROM data_objects`+where, args...); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return removed, nil
}

// --- api results ---

func (b *sqliteBackend) GetAPIResult(ctx context.Context, fetcherID, paramsKey string) (*storage.APIResult, error) {
	var r storage.APIResult
	err := b.db.QueryRowContext(ctx, `SELECT fetcher_id, params_key, result_path, created_at
		FROM api_results WHERE fetcher_id = ? AND params_key = ?`, fetcherID, paramsKey).
		Scan(&r.FetcherID, &r.ParamsKey, &r.ResultPath, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api result %s: %w", fetcherID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return &r, nil
}

func (b *sqliteBackend) PutAPIResult(ctx context.Context, r *storage.APIResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := b.db.ExecContext(ctx, `INSERT INTO api_results (fetcher_id, params_key, result_path, created_at)
		VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		r.FetcherID, r.ParamsKey, r.ResultPath, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}
