package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/storage"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
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
	created_at TIMESTAMPTZ NOT NULL,
	creator_id TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL DEFAULT 0,
	stopped BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (owner_kind, owner_id, code)
);

CREATE TABLE IF NOT EXISTS configurations (
	context_id TEXT PRIMARY KEY REFERENCES search_contexts(id) ON DELETE CASCADE,
	search_string TEXT NOT NULL,
	keywords JSONB NOT NULL,
	data_type TEXT NOT NULL,
	advanced JSONB
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
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	incompatible_with JSONB NOT NULL DEFAULT '[]',
	manipulation TEXT NOT NULL DEFAULT '',
	is_builtin BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (kind, name)
);

CREATE TABLE IF NOT EXISTS data_objects (
	id TEXT PRIMARY KEY,
	context_id TEXT NOT NULL REFERENCES search_contexts(id) ON DELETE CASCADE,
	content_path TEXT NOT NULL,
	preview_path TEXT NOT NULL DEFAULT '',
	public_path TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	filtered BOOLEAN NOT NULL DEFAULT FALSE,
	classification JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (context_id, content_path)
);

CREATE INDEX IF NOT EXISTS data_objects_context ON data_objects (context_id, filtered);

CREATE TABLE IF NOT EXISTS api_results (
	fetcher_id TEXT NOT NULL,
	params_key TEXT NOT NULL,
	result_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (fetcher_id, params_key)
);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
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

// --- contexts ---

const contextColumns = `id, code, name, description, owner_kind, owner_id, status, created_at, creator_id, iterations, stopped`

func scanContext(row pgx.Row) (*storage.SearchContext, error) {
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

func (b *postgresBackend) CreateContext(ctx context.Context, sc *storage.SearchContext) error {
	if sc.ID == "" {
		sc.ID = uuid.Must(uuid.NewV7()).String()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	if sc.Status == "" {
		sc.Status = lifecycle.StatusNotConfigured
	}

	_, err := b.pool.Exec(ctx, `INSERT INTO search_contexts (`+contextColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sc.ID, sc.Code, sc.Name, sc.Description, string(sc.Owner.Kind), sc.Owner.ID,
		string(sc.Status), sc.CreatedAt, sc.CreatorID, sc.Iterations, sc.Stopped,
	)
	if isUnique(err) {
		return fmt.Errorf("context %s/%s: %w", sc.Owner, sc.Code, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *postgresBackend) GetContext(ctx context.Context, id string) (*storage.SearchContext, error) {
	sc, err := scanContext(b.pool.QueryRow(ctx, `SELECT `+contextColumns+` FROM search_contexts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return sc, nil
}

func (b *postgresBackend) GetContextByCode(ctx context.Context, owner storage.Owner, code string) (*storage.SearchContext, error) {
	sc, err := scanContext(b.pool.QueryRow(ctx, `SELECT `+contextColumns+` FROM search_contexts
		WHERE owner_kind = $1 AND owner_id = $2 AND code = $3`, string(owner.Kind), owner.ID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("context %s/%s: %w", owner, code, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return sc, nil
}

func (b *postgresBackend) ListContexts(ctx context.Context, filter storage.ContextFilter) ([]*storage.SearchContext, error) {
	query := `SELECT ` + contextColumns + ` FROM search_contexts WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Owner != nil {
		query += fmt.Sprintf(` AND owner_kind = $%d AND owner_id = $%d`, paramCount, paramCount+1)
		args = append(args, string(filter.Owner.Kind), filter.Owner.ID)
		paramCount += 2
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, paramCount)
		args = append(args, string(filter.Status))
		paramCount++
	}

	query += ` ORDER BY created_at DESC, id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
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

func (b *postgresBackend) TransitionStatus(ctx context.Context, id string, from, to lifecycle.Status) error {
	if err := lifecycle.Transition(from, to); err != nil {
		return err
	}

	tag, err := b.pool.Exec(ctx, `UPDATE search_contexts SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = b.pool.QueryRow(ctx, `SELECT status FROM search_contexts WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return fmt.Errorf("context %s is %s, expected %s: %w", id, current, from, storage.ErrStatusConflict)
}

func (b *postgresBackend) SetStopped(ctx context.Context, id string, stopped bool) error {
	tag, err := b.pool.Exec(ctx, `UPDATE search_contexts SET stopped = $1 WHERE id = $2`, stopped, id)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (b *postgresBackend) IncrementIterations(ctx context.Context, id string) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx,
		`UPDATE search_contexts SET iterations = iterations + 1 WHERE id = $1 RETURNING iterations`, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return n, nil
}

func (b *postgresBackend) DeleteContext(ctx context.Context, id string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM data_objects WHERE context_id = $1`,
		`DELETE FROM configurations WHERE context_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM search_contexts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("context %s: %w", id, storage.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

// --- configurations ---

func (b *postgresBackend) SaveConfiguration(ctx context.Context, cfg *storage.Configuration) error {
	keywords, err := marshalOr(cfg.Keywords, "[]")
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	var advanced *string
	if cfg.Advanced != nil {
		data, err := json.Marshal(cfg.Advanced)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		s := string(data)
		advanced = &s
	}

	_, err = b.pool.Exec(ctx, `INSERT INTO configurations (context_id, search_string, keywords, data_type, advanced)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (context_id) DO UPDATE SET
			search_string = EXCLUDED.search_string,
			keywords = EXCLUDED.keywords,
			data_type = EXCLUDED.data_type,
			advanced = EXCLUDED.advanced`,
		cfg.ContextID, cfg.SearchString, keywords, string(cfg.DataType), advanced,
	)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *postgresBackend) GetConfiguration(ctx context.Context, contextID string) (*storage.Configuration, error) {
	var cfg storage.Configuration
	var keywords, advanced []byte
	var dataType string

	err := b.pool.QueryRow(ctx, `SELECT context_id, search_string, keywords, data_type, advanced
		FROM configurations WHERE context_id = $1`, contextID).
		Scan(&cfg.ContextID, &cfg.SearchString, &keywords, &dataType, &advanced)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("configuration %s: %w", contextID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	cfg.DataType = storage.DataType(dataType)
	if err := json.Unmarshal(keywords, &cfg.Keywords); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	if advanced != nil {
		cfg.Advanced = &storage.AdvancedConfiguration{}
		if err := json.Unmarshal(advanced, cfg.Advanced); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
	}
	return &cfg, nil
}

// --- plugins ---

const pluginColumns = `id, name, kind, type, location, description, active, data_type, is_default, incompatible_with, manipulation, is_builtin`

func scanPlugin(row pgx.Row) (*storage.Plugin, error) {
	var p storage.Plugin
	var kind, typ, dataType, manipulation string
	var incompatible []byte
	err := row.Scan(&p.ID, &p.Name, &kind, &typ, &p.Location, &p.Description, &p.Active,
		&dataType, &p.IsDefault, &incompatible, &manipulation, &p.IsBuiltin)
	if err != nil {
		return nil, err
	}
	p.Kind = storage.PluginKind(kind)
	p.Type = storage.PluginType(typ)
	p.DataType = storage.DataType(dataType)
	p.Manipulation = storage.Manipulation(manipulation)
	if err := json.Unmarshal(incompatible, &p.IncompatibleWith); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *postgresBackend) UpsertPlugin(ctx context.Context, p *storage.Plugin) error {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	incompatible, err := marshalOr(p.IncompatibleWith, "[]")
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	var id string
	err = b.pool.QueryRow(ctx, `INSERT INTO plugins (`+pluginColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (kind, name) DO UPDATE SET
			type = EXCLUDED.type,
			location = EXCLUDED.location,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			data_type = EXCLUDED.data_type,
			is_default = EXCLUDED.is_default,
			incompatible_with = EXCLUDED.incompatible_with,
			manipulation = EXCLUDED.manipulation,
			is_builtin = EXCLUDED.is_builtin
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

func (b *postgresBackend) GetPlugin(ctx context.Context, id string) (*storage.Plugin, error) {
	p, err := scanPlugin(b.pool.QueryRow(ctx, `SELECT `+pluginColumns+` FROM plugins WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("plugin %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return p, nil
}

func (b *postgresBackend) ListPlugins(ctx context.Context, filter storage.PluginFilter) ([]*storage.Plugin, error) {
	query := `SELECT ` + pluginColumns + ` FROM plugins WHERE 1=1`
	args := []any{}

	if filter.Kind != "" {
		query += ` AND kind = $1`
		args = append(args, string(filter.Kind))
	}
	if filter.ActiveOnly {
		query += ` AND active`
	}
	query += ` ORDER BY kind, name`

	rows, err := b.pool.Query(ctx, query, args...)
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

func scanDataObject(row pgx.Row) (*storage.DataObject, error) {
	var o storage.DataObject
	var metadata, classification []byte
	err := row.Scan(&o.ID, &o.ContextID, &o.ContentPath, &o.PreviewPath, &o.PublicPath, &o.SourceURL,
		&metadata, &o.Filtered, &classification, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(classification, &o.Classification); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectDataObjects(rows pgx.Rows) ([]*storage.DataObject, error) {
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

func (b *postgresBackend) InsertDataObjects(ctx context.Context, objs []*storage.DataObject) (int, error) {
	if len(objs) == 0 {
		return 0, nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	defer tx.Rollback(ctx)

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

		tag, err := tx.Exec(ctx, `INSERT INTO data_objects (`+dataColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT DO NOTHING`,
			o.ID, o.ContextID, o.ContentPath, o.PreviewPath, o.PublicPath, o.SourceURL,
			metadata, o.Filtered, classification, o.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("context: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return inserted, nil
}

func dataWhere(contextID string, filter storage.DataFilter) (string, []any) {
	where := ` WHERE context_id = $1`
	args := []any{contextID}
	if filter.UnfilteredOnly {
		where += ` AND NOT filtered`
	}
	if len(filter.IDs) > 0 {
		where += ` AND id = ANY($2)`
		args = append(args, filter.IDs)
	}
	return where, args
}

func (b *postgresBackend) ListDataObjects(ctx context.Context, contextID string, filter storage.DataFilter) ([]*storage.DataObject, error) {
	where, args := dataWhere(contextID, filter)
	rows, err := b.pool.Query(ctx, `SELECT `+dataColumns+` FROM data_objects`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return collectDataObjects(rows)
}

func (b *postgresBackend) CountDataObjects(ctx context.Context, contextID string, filter storage.DataFilter) (int, error) {
	where, args := dataWhere(contextID, filter)
	var n int
	if err := b.pool.QueryRow(ctx, `SELECT COUNT(*) FROM data_objects`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return n, nil
}

func (b *postgresBackend) UpdateDataObject(ctx context.Context, o *storage.DataObject) error {
	metadata, err := marshalOr(o.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	tag, err := b.pool.Exec(ctx, `UPDATE data_objects
		SET content_path = $1, preview_path = $2, public_path = $3, metadata = $4, filtered = $5
		WHERE id = $6`,
		o.ContentPath, o.PreviewPath, o.PublicPath, metadata, o.Filtered, o.ID)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("data object %s: %w", o.ID, storage.ErrNotFound)
	}
	return nil
}

func (b *postgresBackend) SetClassification(ctx context.Context, objectID, classifier string, result json.RawMessage) error {
	tag, err := b.pool.Exec(ctx, `UPDATE data_objects
		SET classification = classification || jsonb_build_object($1::text, $2::jsonb)
		WHERE id = $3`, classifier, string(result), objectID)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("data object %s: %w", objectID, storage.ErrNotFound)
	}
	return nil
}

func (b *postgresBackend) DeleteDataObjects(ctx context.Context, contextID string, ids []string) ([]*storage.DataObject, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, args := dataWhere(contextID, storage.DataFilter{IDs: ids})
	rows, err := b.pool.Query(ctx, `DELETE FROM data_objects`+where+` RETURNING `+dataColumns, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return collectDataObjects(rows)
}

// --- api results ---

func (b *postgresBackend) GetAPIResult(ctx context.Context, fetcherID, paramsKey string) (*storage.APIResult, error) {
	var r storage.APIResult
	err := b.pool.QueryRow(ctx, `SELECT fetcher_id, params_key, result_path, created_at
		FROM api_results WHERE fetcher_id = $1 AND params_key = $2`, fetcherID, paramsKey).
		Scan(&r.FetcherID, &r.ParamsKey, &r.ResultPath, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("api result %s: %w", fetcherID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return &r, nil
}

func (b *postgresBackend) PutAPIResult(ctx context.Context, r *storage.APIResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := b.pool.Exec(ctx, `INSERT INTO api_results (fetcher_id, params_key, result_path, created_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		r.FetcherID, r.ParamsKey, r.ResultPath, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}
