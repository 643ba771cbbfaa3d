package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/grookai/vault-engine/internal/model"
)

// SQLiteStore implements Store on an embedded database. It exists for local
// development and single-node deployments where running Postgres is not worth
// the trouble; claims are serialized with a process-local mutex since SQLite
// has no SKIP LOCKED.
type SQLiteStore struct {
	db  *sql.DB
	cfg QueueConfig

	claimMu sync.Mutex
}

// NewSQLite opens (or creates) an embedded database at path. Use ":memory:"
// for tests.
func NewSQLite(path string, queueCfg QueueConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer avoids SQLITE_BUSY under concurrent drains.
	db.SetMaxOpenConns(1)

	if queueCfg.MaxAttempts <= 0 {
		queueCfg = DefaultQueueConfig()
	}
	return &SQLiteStore{db: db, cfg: queueCfg}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS work_items (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	payload      TEXT NOT NULL DEFAULT '{}',
	dedup_key    TEXT,
	status       TEXT NOT NULL DEFAULT 'queued',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	scheduled_at TIMESTAMP NOT NULL,
	claimed_at   TIMESTAMP,
	last_error   TEXT,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_dedup
	ON work_items(dedup_key) WHERE status IN ('queued', 'processing');
CREATE INDEX IF NOT EXISTS idx_work_items_claim
	ON work_items(status, scheduled_at);

CREATE TABLE IF NOT EXISTS catalog_import_items (
	id           TEXT PRIMARY KEY,
	set_code     TEXT NOT NULL,
	number       TEXT NOT NULL,
	lang         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	retries      INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT,
	scheduled_at TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_import_items_identity
	ON catalog_import_items(set_code, number, lang)
	WHERE status IN ('queued', 'processing', 'error');
CREATE INDEX IF NOT EXISTS idx_import_items_claim
	ON catalog_import_items(status, scheduled_at);

CREATE TABLE IF NOT EXISTS card_prints (
	id            TEXT PRIMARY KEY,
	set_code      TEXT NOT NULL,
	number        TEXT NOT NULL,
	lang          TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	image_url     TEXT NOT NULL DEFAULT '',
	rarity        TEXT NOT NULL DEFAULT '',
	curated_name  INTEGER NOT NULL DEFAULT 0,
	curated_image INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	UNIQUE (set_code, number, lang)
);

CREATE TABLE IF NOT EXISTS price_observations (
	id          TEXT PRIMARY KEY,
	card_id     TEXT NOT NULL,
	condition   TEXT NOT NULL,
	source      TEXT NOT NULL,
	price_low   REAL NOT NULL,
	price_mid   REAL NOT NULL,
	price_high  REAL NOT NULL,
	currency    TEXT NOT NULL DEFAULT 'USD',
	observed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_obs_lookup
	ON price_observations(card_id, condition, source, observed_at DESC);

CREATE TABLE IF NOT EXISTS card_floors (
	id          TEXT PRIMARY KEY,
	card_id     TEXT NOT NULL,
	condition   TEXT NOT NULL,
	source      TEXT NOT NULL,
	floor_price REAL NOT NULL,
	currency    TEXT NOT NULL DEFAULT 'USD',
	observed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_card_floors_lookup
	ON card_floors(card_id, condition, source, observed_at DESC);

CREATE TABLE IF NOT EXISTS price_error_log (
	id         TEXT PRIMARY KEY,
	set_code   TEXT NOT NULL,
	number     TEXT NOT NULL,
	lang       TEXT NOT NULL,
	error_text TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteWorkItemColumns = `id, name, payload, dedup_key, status, attempts, max_attempts, scheduled_at, claimed_at, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWorkItem(row rowScanner) (*model.WorkItem, error) {
	var item model.WorkItem
	var payload string
	var dedupKey, lastError sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.Name, &payload, &dedupKey, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.ScheduledAt, &claimedAt,
		&lastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Payload = json.RawMessage(payload)
	item.DedupKey = dedupKey.String
	item.LastError = lastError.String
	if claimedAt.Valid {
		t := claimedAt.Time
		item.ClaimedAt = &t
	}
	return &item, nil
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, name model.JobName, payload json.RawMessage, dedupKey string, scheduledAt time.Time) (*model.WorkItem, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	var dedup any
	if dedupKey != "" {
		dedup = dedupKey
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_items (id, name, payload, dedup_key, status, attempts, max_attempts, scheduled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		id, string(name), string(payload), dedup, s.cfg.MaxAttempts, scheduledAt.UTC(), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: enqueue job %s", name)
	}

	var row *sql.Row
	if dedupKey != "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+sqliteWorkItemColumns+` FROM work_items
			 WHERE dedup_key = ? AND status IN ('queued', 'processing')
			 ORDER BY created_at DESC LIMIT 1`, dedupKey)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+sqliteWorkItemColumns+` FROM work_items WHERE id = ?`, id)
	}
	item, err := scanSQLiteWorkItem(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: enqueue job %s readback", name)
	}
	return item, nil
}

func (s *SQLiteStore) ClaimJobs(ctx context.Context, limit int) ([]model.WorkItem, error) {
	if limit <= 0 {
		limit = 10
	}
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs begin")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM work_items
		 WHERE scheduled_at <= ?
		   AND (status = 'queued' OR (status = 'error' AND attempts < max_attempts))
		 ORDER BY scheduled_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs select")
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs ids")
	}

	var items []model.WorkItem
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE work_items SET status = 'processing', claimed_at = ?, updated_at = ? WHERE id = ?`,
			now, now, id,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim job %s", id)
		}
		item, err := scanSQLiteWorkItem(tx.QueryRowContext(ctx,
			`SELECT `+sqliteWorkItemColumns+` FROM work_items WHERE id = ?`, id))
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim job readback %s", id)
		}
		items = append(items, *item)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs commit")
	}
	return items, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = 'done', claimed_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return requireRow(res, "work_item", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, errText string, retryAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = 'error', attempts = attempts + 1, last_error = ?, scheduled_at = ?, claimed_at = NULL, updated_at = ? WHERE id = ?`,
		errText, retryAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return requireRow(res, "work_item", id)
}

const sqliteImportColumns = `id, set_code, number, lang, status, retries, last_error, scheduled_at, created_at, updated_at`

func scanSQLiteImport(row rowScanner) (*model.CatalogImportItem, error) {
	var item model.CatalogImportItem
	var lastError sql.NullString
	if err := row.Scan(&item.ID, &item.SetCode, &item.Number, &item.Lang, &item.Status,
		&item.Retries, &lastError, &item.ScheduledAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.LastError = lastError.String
	return &item, nil
}

func (s *SQLiteStore) EnqueueImport(ctx context.Context, ident model.Identity) (*model.CatalogImportItem, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO catalog_import_items (id, set_code, number, lang, status, retries, scheduled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)
		 ON CONFLICT (set_code, number, lang) WHERE status IN ('queued', 'processing', 'error')
		 DO UPDATE SET
			status = CASE WHEN status = 'error' AND retries >= ? THEN 'queued' ELSE status END,
			retries = CASE WHEN status = 'error' AND retries >= ? THEN 0 ELSE retries END,
			scheduled_at = CASE WHEN status = 'error' AND retries >= ? THEN excluded.scheduled_at ELSE scheduled_at END,
			updated_at = excluded.updated_at`,
		id, ident.SetCode, ident.Number, ident.Lang, now, now, now,
		s.cfg.MaxAttempts, s.cfg.MaxAttempts, s.cfg.MaxAttempts,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: enqueue import %s/%s", ident.SetCode, ident.Number)
	}

	item, err := scanSQLiteImport(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteImportColumns+` FROM catalog_import_items
		 WHERE set_code = ? AND number = ? AND lang = ? AND status IN ('queued', 'processing', 'error')
		 ORDER BY created_at DESC LIMIT 1`,
		ident.SetCode, ident.Number, ident.Lang,
	))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enqueue import readback")
	}
	return item, nil
}

func (s *SQLiteStore) ClaimImports(ctx context.Context, limit int) ([]model.CatalogImportItem, error) {
	if limit <= 0 {
		limit = 10
	}
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim imports begin")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM catalog_import_items
		 WHERE scheduled_at <= ?
		   AND (status = 'queued' OR (status = 'error' AND retries < ?))
		 ORDER BY scheduled_at ASC LIMIT ?`,
		now, s.cfg.MaxAttempts, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim imports select")
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim imports ids")
	}

	var items []model.CatalogImportItem
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE catalog_import_items SET status = 'processing', updated_at = ? WHERE id = ?`,
			now, id,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim import %s", id)
		}
		item, err := scanSQLiteImport(tx.QueryRowContext(ctx,
			`SELECT `+sqliteImportColumns+` FROM catalog_import_items WHERE id = ?`, id))
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim import readback %s", id)
		}
		items = append(items, *item)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim imports commit")
	}
	return items, nil
}

func (s *SQLiteStore) CompleteImport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE catalog_import_items SET status = 'done', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete import %s", id)
	}
	return requireRow(res, "catalog_import_item", id)
}

func (s *SQLiteStore) FailImport(ctx context.Context, id, errText string, retryAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE catalog_import_items SET status = 'error', retries = retries + 1, last_error = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`,
		errText, retryAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail import %s", id)
	}
	return requireRow(res, "catalog_import_item", id)
}

func (s *SQLiteStore) ReclaimStale(ctx context.Context, lease time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-lease)

	jobs, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = 'queued', claimed_at = NULL, updated_at = ?
		 WHERE status = 'processing' AND claimed_at < ?`,
		time.Now().UTC(), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reclaim stale jobs")
	}
	imports, err := s.db.ExecContext(ctx,
		`UPDATE catalog_import_items SET status = 'queued', updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?`,
		time.Now().UTC(), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reclaim stale imports")
	}

	jn, _ := jobs.RowsAffected()
	in, _ := imports.RowsAffected()
	return int(jn + in), nil
}

const sqlitePrintColumns = `id, set_code, number, lang, name, image_url, rarity, curated_name, curated_image, created_at, updated_at`

func scanSQLitePrint(row rowScanner) (*model.CardPrint, error) {
	var p model.CardPrint
	if err := row.Scan(&p.ID, &p.SetCode, &p.Number, &p.Lang, &p.Name, &p.ImageURL,
		&p.Rarity, &p.CuratedName, &p.CuratedImage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertCardPrint(ctx context.Context, incoming model.CardPrint) (*model.CardPrint, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	now := time.Now().UTC()
	existing, err := s.GetCardPrint(ctx, incoming.Identity())
	if err != nil {
		return nil, err
	}

	if existing == nil {
		incoming.ID = uuid.New().String()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO card_prints (id, set_code, number, lang, name, image_url, rarity, curated_name, curated_image, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			incoming.ID, incoming.SetCode, incoming.Number, incoming.Lang, incoming.Name,
			incoming.ImageURL, incoming.Rarity, incoming.CuratedName, incoming.CuratedImage, now, now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert print")
		}
		return &incoming, nil
	}

	merged := model.MergeCardPrint(*existing, incoming)
	merged.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE card_prints SET name = ?, image_url = ?, rarity = ?, updated_at = ? WHERE id = ?`,
		merged.Name, merged.ImageURL, merged.Rarity, now, merged.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: update print")
	}
	return &merged, nil
}

func (s *SQLiteStore) BulkUpsertCardPrints(ctx context.Context, prints []model.CardPrint) (int64, error) {
	var n int64
	for _, p := range prints {
		if _, err := s.UpsertCardPrint(ctx, p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) GetCardPrint(ctx context.Context, ident model.Identity) (*model.CardPrint, error) {
	p, err := scanSQLitePrint(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePrintColumns+` FROM card_prints WHERE set_code = ? AND number = ? AND lang = ?`,
		ident.SetCode, ident.Number, ident.Lang,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get print")
	}
	return p, nil
}

func (s *SQLiteStore) GetCardPrintByID(ctx context.Context, id string) (*model.CardPrint, error) {
	p, err := scanSQLitePrint(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePrintColumns+` FROM card_prints WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get print %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListCardPrintsBySet(ctx context.Context, setCode string, limit int) ([]model.CardPrint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePrintColumns+` FROM card_prints WHERE set_code = ? ORDER BY number ASC LIMIT ?`,
		setCode, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list prints")
	}
	defer rows.Close()

	var prints []model.CardPrint
	for rows.Next() {
		p, err := scanSQLitePrint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan print")
		}
		prints = append(prints, *p)
	}
	return prints, eris.Wrap(rows.Err(), "sqlite: list prints iterate")
}

func (s *SQLiteStore) ListPrintsNeedingRefresh(ctx context.Context, maxAge time.Duration, limit int) ([]model.CardPrint, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePrintColumns+` FROM card_prints p
		 WHERE NOT EXISTS (
			SELECT 1 FROM price_observations o
			WHERE o.card_id = p.id AND o.source = 'fused' AND o.observed_at > ?
		 )
		 ORDER BY p.updated_at ASC LIMIT ?`,
		cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale prints")
	}
	defer rows.Close()

	var prints []model.CardPrint
	for rows.Next() {
		p, err := scanSQLitePrint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale print")
		}
		prints = append(prints, *p)
	}
	return prints, eris.Wrap(rows.Err(), "sqlite: list stale prints iterate")
}

func (s *SQLiteStore) InsertCardFloor(ctx context.Context, floor model.CardFloor) error {
	if floor.ID == "" {
		floor.ID = uuid.New().String()
	}
	if floor.ObservedAt.IsZero() {
		floor.ObservedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO card_floors (id, card_id, condition, source, floor_price, currency, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		floor.ID, floor.CardID, string(floor.Condition), floor.Source, floor.FloorPrice, floor.Currency, floor.ObservedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert floor")
}

func (s *SQLiteStore) InsertPriceObservation(ctx context.Context, obs model.PriceObservation) error {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_observations (id, card_id, condition, source, price_low, price_mid, price_high, currency, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.CardID, string(obs.Condition), obs.Source, obs.Low, obs.Mid, obs.High, obs.Currency, obs.ObservedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert observation")
}

func (s *SQLiteStore) LatestFusedMid(ctx context.Context, cardID string, cond model.Condition, maxAge time.Duration) (*float64, error) {
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}
	var mid float64
	err := s.db.QueryRowContext(ctx,
		`SELECT price_mid FROM price_observations
		 WHERE card_id = ? AND condition = ? AND source = 'fused' AND observed_at > ?
		 ORDER BY observed_at DESC LIMIT 1`,
		cardID, string(cond), cutoff,
	).Scan(&mid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest fused mid")
	}
	return &mid, nil
}

func (s *SQLiteStore) LatestFloors(ctx context.Context, cardID string, cond model.Condition) ([]model.CardFloor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.card_id, f.condition, f.source, f.floor_price, f.currency, f.observed_at
		 FROM card_floors f
		 WHERE f.card_id = ? AND f.condition = ?
		   AND f.observed_at = (
			SELECT MAX(observed_at) FROM card_floors
			WHERE card_id = f.card_id AND condition = f.condition AND source = f.source
		   )
		 ORDER BY f.source`,
		cardID, string(cond),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest floors")
	}
	defer rows.Close()

	var floors []model.CardFloor
	for rows.Next() {
		var f model.CardFloor
		if err := rows.Scan(&f.ID, &f.CardID, &f.Condition, &f.Source, &f.FloorPrice, &f.Currency, &f.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan floor")
		}
		floors = append(floors, f)
	}
	return floors, eris.Wrap(rows.Err(), "sqlite: latest floors iterate")
}

func (s *SQLiteStore) LogPriceError(ctx context.Context, entry model.PriceErrorEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_error_log (id, set_code, number, lang, error_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SetCode, entry.Number, entry.Lang, entry.ErrorText, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: log price error")
}

func (s *SQLiteStore) PurgeObservations(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	obs, err := s.db.ExecContext(ctx, `DELETE FROM price_observations WHERE observed_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge observations")
	}
	floors, err := s.db.ExecContext(ctx, `DELETE FROM card_floors WHERE observed_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge floors")
	}

	on, _ := obs.RowsAffected()
	fn, _ := floors.RowsAffected()
	return int(on + fn), nil
}

func (s *SQLiteStore) PriceStatus(ctx context.Context) (*PriceStatus, error) {
	var status PriceStatus
	freshCutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)

	var anyPriced int
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM card_prints),
			(SELECT COUNT(DISTINCT card_id) FROM price_observations WHERE source = 'fused' AND observed_at > ?),
			(SELECT COUNT(DISTINCT card_id) FROM price_observations WHERE source = 'fused'),
			(SELECT COUNT(*) FROM price_error_log)`,
		freshCutoff,
	).Scan(&status.TotalPrints, &status.PricedFresh, &anyPriced, &status.ErrorEntries)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: price status")
	}

	status.PricedStale = anyPriced - status.PricedFresh
	status.Unpriced = status.TotalPrints - anyPriced
	return &status, nil
}

// CardName satisfies the marketplace query namer.
func (s *SQLiteStore) CardName(ctx context.Context, ident model.Identity) (string, error) {
	p, err := s.GetCardPrint(ctx, ident)
	if err != nil || p == nil {
		return "", err
	}
	return p.Name, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
