package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/grookai/vault-engine/internal/db"
	"github.com/grookai/vault-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	cfg     QueueConfig
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, queueCfg QueueConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	if queueCfg.MaxAttempts <= 0 {
		queueCfg = DefaultQueueConfig()
	}
	return &PostgresStore{pool: pool, cfg: queueCfg, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool, queueCfg QueueConfig) *PostgresStore {
	if queueCfg.MaxAttempts <= 0 {
		queueCfg = DefaultQueueConfig()
	}
	return &PostgresStore{pool: pool, cfg: queueCfg}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS work_items (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	payload      JSONB NOT NULL DEFAULT '{}',
	dedup_key    TEXT,
	status       TEXT NOT NULL DEFAULT 'queued',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at   TIMESTAMPTZ,
	last_error   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_dedup
	ON work_items(dedup_key) WHERE status IN ('queued', 'processing');
CREATE INDEX IF NOT EXISTS idx_work_items_claim
	ON work_items(status, scheduled_at);

CREATE TABLE IF NOT EXISTS catalog_import_items (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	set_code     TEXT NOT NULL,
	number       TEXT NOT NULL,
	lang         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	retries      INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT,
	scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_import_items_identity
	ON catalog_import_items(set_code, number, lang)
	WHERE status IN ('queued', 'processing', 'error');
CREATE INDEX IF NOT EXISTS idx_import_items_claim
	ON catalog_import_items(status, scheduled_at);

CREATE TABLE IF NOT EXISTS card_prints (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	set_code      TEXT NOT NULL,
	number        TEXT NOT NULL,
	lang          TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	image_url     TEXT NOT NULL DEFAULT '',
	rarity        TEXT NOT NULL DEFAULT '',
	curated_name  BOOLEAN NOT NULL DEFAULT false,
	curated_image BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (set_code, number, lang)
);

CREATE TABLE IF NOT EXISTS price_observations (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	card_id     TEXT NOT NULL REFERENCES card_prints(id),
	condition   TEXT NOT NULL,
	source      TEXT NOT NULL,
	price_low   DOUBLE PRECISION NOT NULL,
	price_mid   DOUBLE PRECISION NOT NULL,
	price_high  DOUBLE PRECISION NOT NULL,
	currency    TEXT NOT NULL DEFAULT 'USD',
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_price_obs_lookup
	ON price_observations(card_id, condition, source, observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_price_obs_observed_at
	ON price_observations(observed_at);

CREATE TABLE IF NOT EXISTS card_floors (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	card_id     TEXT NOT NULL REFERENCES card_prints(id),
	condition   TEXT NOT NULL,
	source      TEXT NOT NULL,
	floor_price DOUBLE PRECISION NOT NULL,
	currency    TEXT NOT NULL DEFAULT 'USD',
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_card_floors_lookup
	ON card_floors(card_id, condition, source, observed_at DESC);

CREATE TABLE IF NOT EXISTS price_error_log (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	set_code   TEXT NOT NULL,
	number     TEXT NOT NULL,
	lang       TEXT NOT NULL,
	error_text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_price_error_log_identity
	ON price_error_log(set_code, number, lang);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const workItemColumns = `id, name, payload, dedup_key, status, attempts, max_attempts, scheduled_at, claimed_at, last_error, created_at, updated_at`

func scanWorkItem(row pgx.Row) (*model.WorkItem, error) {
	var item model.WorkItem
	var dedupKey, lastError *string
	if err := row.Scan(&item.ID, &item.Name, &item.Payload, &dedupKey, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.ScheduledAt, &item.ClaimedAt,
		&lastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	if dedupKey != nil {
		item.DedupKey = *dedupKey
	}
	if lastError != nil {
		item.LastError = *lastError
	}
	return &item, nil
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, name model.JobName, payload json.RawMessage, dedupKey string, scheduledAt time.Time) (*model.WorkItem, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	var dedup *string
	if dedupKey != "" {
		dedup = &dedupKey
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO work_items (id, name, payload, dedup_key, status, attempts, max_attempts, scheduled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7, $7)
		 ON CONFLICT DO NOTHING
		 RETURNING `+workItemColumns,
		id, string(name), []byte(payload), dedup, s.cfg.MaxAttempts, scheduledAt.UTC(), now,
	)
	item, err := scanWorkItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: enqueue job %s", name)
	}

	// Dedup hit: hand back the live item instead of a duplicate.
	row = s.pool.QueryRow(ctx,
		`SELECT `+workItemColumns+` FROM work_items
		 WHERE dedup_key = $1 AND status IN ('queued', 'processing')
		 ORDER BY created_at DESC LIMIT 1`,
		dedupKey,
	)
	item, err = scanWorkItem(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: enqueue job %s dedup lookup", name)
	}
	return item, nil
}

func (s *PostgresStore) ClaimJobs(ctx context.Context, limit int) ([]model.WorkItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE work_items SET status = 'processing', claimed_at = now(), updated_at = now()
		 WHERE id IN (
			SELECT id FROM work_items
			WHERE scheduled_at <= now()
			  AND (status = 'queued' OR (status = 'error' AND attempts < max_attempts))
			ORDER BY scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+workItemColumns,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim jobs")
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed job")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: claim jobs iterate")
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'done', claimed_at = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("work_item not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id, errText string, retryAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'error', attempts = attempts + 1, last_error = $1, scheduled_at = $2, claimed_at = NULL, updated_at = $3 WHERE id = $4`,
		errText, retryAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("work_item not found: %s", id)
	}
	return nil
}

const importItemColumns = `id, set_code, number, lang, status, retries, last_error, scheduled_at, created_at, updated_at`

func scanImportItem(row pgx.Row) (*model.CatalogImportItem, error) {
	var item model.CatalogImportItem
	var lastError *string
	if err := row.Scan(&item.ID, &item.SetCode, &item.Number, &item.Lang, &item.Status,
		&item.Retries, &lastError, &item.ScheduledAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	if lastError != nil {
		item.LastError = *lastError
	}
	return &item, nil
}

// EnqueueImport inserts a catalog import item, idempotent on the normalized
// identity triple: a live item for the same triple is returned as-is, and a
// terminally failed one is revived with its retry budget reset.
func (s *PostgresStore) EnqueueImport(ctx context.Context, ident model.Identity) (*model.CatalogImportItem, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO catalog_import_items (id, set_code, number, lang, status, retries, scheduled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $5, $5)
		 ON CONFLICT (set_code, number, lang) WHERE status IN ('queued', 'processing', 'error')
		 DO UPDATE SET
			status = CASE WHEN catalog_import_items.status = 'error' AND catalog_import_items.retries >= $6
				THEN 'queued' ELSE catalog_import_items.status END,
			retries = CASE WHEN catalog_import_items.status = 'error' AND catalog_import_items.retries >= $6
				THEN 0 ELSE catalog_import_items.retries END,
			scheduled_at = CASE WHEN catalog_import_items.status = 'error' AND catalog_import_items.retries >= $6
				THEN $5 ELSE catalog_import_items.scheduled_at END,
			updated_at = $5
		 RETURNING `+importItemColumns,
		id, ident.SetCode, ident.Number, ident.Lang, now, s.cfg.MaxAttempts,
	)
	item, err := scanImportItem(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: enqueue import %s/%s", ident.SetCode, ident.Number)
	}
	return item, nil
}

func (s *PostgresStore) ClaimImports(ctx context.Context, limit int) ([]model.CatalogImportItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE catalog_import_items SET status = 'processing', updated_at = now()
		 WHERE id IN (
			SELECT id FROM catalog_import_items
			WHERE scheduled_at <= now()
			  AND (status = 'queued' OR (status = 'error' AND retries < $2))
			ORDER BY scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+importItemColumns,
		limit, s.cfg.MaxAttempts,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim imports")
	}
	defer rows.Close()

	var items []model.CatalogImportItem
	for rows.Next() {
		item, err := scanImportItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed import")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: claim imports iterate")
}

func (s *PostgresStore) CompleteImport(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog_import_items SET status = 'done', updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete import %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("catalog_import_item not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailImport(ctx context.Context, id, errText string, retryAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog_import_items SET status = 'error', retries = retries + 1, last_error = $1, scheduled_at = $2, updated_at = $3 WHERE id = $4`,
		errText, retryAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail import %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("catalog_import_item not found: %s", id)
	}
	return nil
}

// ReclaimStale returns items stuck in processing past the lease to the queue,
// typically after a worker crash.
func (s *PostgresStore) ReclaimStale(ctx context.Context, lease time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-lease)

	jobsTag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'queued', claimed_at = NULL, updated_at = now()
		 WHERE status = 'processing' AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reclaim stale jobs")
	}

	importsTag, err := s.pool.Exec(ctx,
		`UPDATE catalog_import_items SET status = 'queued', updated_at = now()
		 WHERE status = 'processing' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reclaim stale imports")
	}

	return int(jobsTag.RowsAffected() + importsTag.RowsAffected()), nil
}

const cardPrintColumns = `id, set_code, number, lang, name, image_url, rarity, curated_name, curated_image, created_at, updated_at`

func scanCardPrint(row pgx.Row) (*model.CardPrint, error) {
	var p model.CardPrint
	if err := row.Scan(&p.ID, &p.SetCode, &p.Number, &p.Lang, &p.Name, &p.ImageURL,
		&p.Rarity, &p.CuratedName, &p.CuratedImage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertCardPrint inserts or merges a print keyed by its identity triple.
// Merging runs in a transaction with the existing row locked so concurrent
// imports cannot interleave curated-field decisions.
func (s *PostgresStore) UpsertCardPrint(ctx context.Context, incoming model.CardPrint) (*model.CardPrint, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert print begin")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	existing, err := scanCardPrint(tx.QueryRow(ctx,
		`SELECT `+cardPrintColumns+` FROM card_prints WHERE set_code = $1 AND number = $2 AND lang = $3 FOR UPDATE`,
		incoming.SetCode, incoming.Number, incoming.Lang,
	))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: upsert print lookup")
	}

	var result model.CardPrint
	if existing == nil {
		incoming.ID = uuid.New().String()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		_, err = tx.Exec(ctx,
			`INSERT INTO card_prints (id, set_code, number, lang, name, image_url, rarity, curated_name, curated_image, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
			incoming.ID, incoming.SetCode, incoming.Number, incoming.Lang, incoming.Name,
			incoming.ImageURL, incoming.Rarity, incoming.CuratedName, incoming.CuratedImage, now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert print")
		}
		result = incoming
	} else {
		result = model.MergeCardPrint(*existing, incoming)
		result.UpdatedAt = now
		_, err = tx.Exec(ctx,
			`UPDATE card_prints SET name = $1, image_url = $2, rarity = $3, updated_at = $4 WHERE id = $5`,
			result.Name, result.ImageURL, result.Rarity, now, result.ID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: update print")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert print commit")
	}
	return &result, nil
}

// BulkUpsertCardPrints lands a full set import in one statement. Curated
// columns are protected in SQL with the same precedence as MergeCardPrint.
func (s *PostgresStore) BulkUpsertCardPrints(ctx context.Context, prints []model.CardPrint) (int64, error) {
	if len(prints) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(prints))
	for _, p := range prints {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{id, p.SetCode, p.Number, p.Lang, p.Name, p.ImageURL, p.Rarity, false, false, now, now})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "card_prints",
		Columns:      []string{"id", "set_code", "number", "lang", "name", "image_url", "rarity", "curated_name", "curated_image", "created_at", "updated_at"},
		ConflictKeys: []string{"set_code", "number", "lang"},
		SetClauses: []string{
			`"name" = CASE WHEN card_prints.curated_name THEN card_prints.name WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE card_prints.name END`,
			`"image_url" = CASE WHEN card_prints.curated_image THEN card_prints.image_url WHEN EXCLUDED.image_url <> '' THEN EXCLUDED.image_url ELSE card_prints.image_url END`,
			`"rarity" = CASE WHEN EXCLUDED.rarity <> '' THEN EXCLUDED.rarity ELSE card_prints.rarity END`,
			`"updated_at" = EXCLUDED.updated_at`,
		},
	}, rows)
}

func (s *PostgresStore) GetCardPrint(ctx context.Context, ident model.Identity) (*model.CardPrint, error) {
	p, err := scanCardPrint(s.pool.QueryRow(ctx,
		`SELECT `+cardPrintColumns+` FROM card_prints WHERE set_code = $1 AND number = $2 AND lang = $3`,
		ident.SetCode, ident.Number, ident.Lang,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get print")
	}
	return p, nil
}

func (s *PostgresStore) GetCardPrintByID(ctx context.Context, id string) (*model.CardPrint, error) {
	p, err := scanCardPrint(s.pool.QueryRow(ctx,
		`SELECT `+cardPrintColumns+` FROM card_prints WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get print %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListCardPrintsBySet(ctx context.Context, setCode string, limit int) ([]model.CardPrint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+cardPrintColumns+` FROM card_prints WHERE set_code = $1 ORDER BY number ASC LIMIT $2`,
		setCode, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prints")
	}
	defer rows.Close()

	var prints []model.CardPrint
	for rows.Next() {
		p, err := scanCardPrint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan print")
		}
		prints = append(prints, *p)
	}
	return prints, eris.Wrap(rows.Err(), "postgres: list prints iterate")
}

// ListPrintsNeedingRefresh returns prints with no fused observation newer
// than maxAge, oldest-first so the most out-of-date prices go first.
func (s *PostgresStore) ListPrintsNeedingRefresh(ctx context.Context, maxAge time.Duration, limit int) ([]model.CardPrint, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.pool.Query(ctx,
		`SELECT `+cardPrintColumns+` FROM card_prints p
		 WHERE NOT EXISTS (
			SELECT 1 FROM price_observations o
			WHERE o.card_id = p.id AND o.source = 'fused' AND o.observed_at > $1
		 )
		 ORDER BY p.updated_at ASC LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale prints")
	}
	defer rows.Close()

	var prints []model.CardPrint
	for rows.Next() {
		p, err := scanCardPrint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale print")
		}
		prints = append(prints, *p)
	}
	return prints, eris.Wrap(rows.Err(), "postgres: list stale prints iterate")
}

func (s *PostgresStore) InsertCardFloor(ctx context.Context, floor model.CardFloor) error {
	if floor.ID == "" {
		floor.ID = uuid.New().String()
	}
	if floor.ObservedAt.IsZero() {
		floor.ObservedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO card_floors (id, card_id, condition, source, floor_price, currency, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		floor.ID, floor.CardID, string(floor.Condition), floor.Source, floor.FloorPrice, floor.Currency, floor.ObservedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert floor")
}

func (s *PostgresStore) InsertPriceObservation(ctx context.Context, obs model.PriceObservation) error {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_observations (id, card_id, condition, source, price_low, price_mid, price_high, currency, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		obs.ID, obs.CardID, string(obs.Condition), obs.Source, obs.Low, obs.Mid, obs.High, obs.Currency, obs.ObservedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert observation")
}

func (s *PostgresStore) LatestFusedMid(ctx context.Context, cardID string, cond model.Condition, maxAge time.Duration) (*float64, error) {
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}
	var mid float64
	err := s.pool.QueryRow(ctx,
		`SELECT price_mid FROM price_observations
		 WHERE card_id = $1 AND condition = $2 AND source = 'fused' AND observed_at > $3
		 ORDER BY observed_at DESC LIMIT 1`,
		cardID, string(cond), cutoff,
	).Scan(&mid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest fused mid")
	}
	return &mid, nil
}

// LatestFloors returns the most recent floor per source.
func (s *PostgresStore) LatestFloors(ctx context.Context, cardID string, cond model.Condition) ([]model.CardFloor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (source) id, card_id, condition, source, floor_price, currency, observed_at
		 FROM card_floors
		 WHERE card_id = $1 AND condition = $2
		 ORDER BY source, observed_at DESC`,
		cardID, string(cond),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest floors")
	}
	defer rows.Close()

	var floors []model.CardFloor
	for rows.Next() {
		var f model.CardFloor
		if err := rows.Scan(&f.ID, &f.CardID, &f.Condition, &f.Source, &f.FloorPrice, &f.Currency, &f.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan floor")
		}
		floors = append(floors, f)
	}
	return floors, eris.Wrap(rows.Err(), "postgres: latest floors iterate")
}

func (s *PostgresStore) LogPriceError(ctx context.Context, entry model.PriceErrorEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_error_log (id, set_code, number, lang, error_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.SetCode, entry.Number, entry.Lang, entry.ErrorText, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: log price error")
}

// PurgeObservations deletes price observations and floors older than the
// retention horizon.
func (s *PostgresStore) PurgeObservations(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	obsTag, err := s.pool.Exec(ctx,
		`DELETE FROM price_observations WHERE observed_at < $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge observations")
	}
	floorTag, err := s.pool.Exec(ctx,
		`DELETE FROM card_floors WHERE observed_at < $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge floors")
	}
	return int(obsTag.RowsAffected() + floorTag.RowsAffected()), nil
}

func (s *PostgresStore) PriceStatus(ctx context.Context) (*PriceStatus, error) {
	var status PriceStatus
	freshCutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)

	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM card_prints),
			(SELECT COUNT(DISTINCT card_id) FROM price_observations WHERE source = 'fused' AND observed_at > $1),
			(SELECT COUNT(DISTINCT card_id) FROM price_observations WHERE source = 'fused'),
			(SELECT COUNT(*) FROM price_error_log)`,
		freshCutoff,
	).Scan(&status.TotalPrints, &status.PricedFresh, &status.PricedStale, &status.ErrorEntries)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: price status")
	}

	// The third count is "any fused price ever"; convert to stale and unpriced.
	anyPriced := status.PricedStale
	status.PricedStale = anyPriced - status.PricedFresh
	status.Unpriced = status.TotalPrints - anyPriced
	return &status, nil
}

// CardName satisfies the marketplace query namer.
func (s *PostgresStore) CardName(ctx context.Context, ident model.Identity) (string, error) {
	p, err := s.GetCardPrint(ctx, ident)
	if err != nil || p == nil {
		return "", err
	}
	return p.Name, nil
}
