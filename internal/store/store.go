package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grookai/vault-engine/internal/model"
)

// QueueConfig tunes the durable queue's retry behavior.
type QueueConfig struct {
	// MaxAttempts bounds retries for both work items and catalog imports.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// LeaseTimeout is how long a claimed item may sit in processing before a
	// reclaim sweep returns it to the queue.
	LeaseTimeout time.Duration `yaml:"lease_timeout" mapstructure:"lease_timeout"`
}

// DefaultQueueConfig matches the worker defaults: three attempts, ten-minute
// lease.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxAttempts: 3, LeaseTimeout: 10 * time.Minute}
}

// PriceStatus summarizes pricing coverage across the catalog.
type PriceStatus struct {
	TotalPrints  int `json:"total_prints"`
	PricedFresh  int `json:"priced_fresh"`
	PricedStale  int `json:"priced_stale"`
	Unpriced     int `json:"unpriced"`
	ErrorEntries int `json:"error_entries"`
}

// Store defines the persistence interface for the import pipeline and price
// engine.
type Store interface {
	// Generic work queue
	EnqueueJob(ctx context.Context, name model.JobName, payload json.RawMessage, dedupKey string, scheduledAt time.Time) (*model.WorkItem, error)
	ClaimJobs(ctx context.Context, limit int) ([]model.WorkItem, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errText string, retryAt time.Time) error

	// Catalog import queue
	EnqueueImport(ctx context.Context, ident model.Identity) (*model.CatalogImportItem, error)
	ClaimImports(ctx context.Context, limit int) ([]model.CatalogImportItem, error)
	CompleteImport(ctx context.Context, id string) error
	FailImport(ctx context.Context, id, errText string, retryAt time.Time) error

	// ReclaimStale returns items stuck in processing past the lease timeout
	// to the queue. Covers both queues.
	ReclaimStale(ctx context.Context, lease time.Duration) (int, error)

	// Catalog
	UpsertCardPrint(ctx context.Context, incoming model.CardPrint) (*model.CardPrint, error)
	BulkUpsertCardPrints(ctx context.Context, prints []model.CardPrint) (int64, error)
	GetCardPrint(ctx context.Context, ident model.Identity) (*model.CardPrint, error)
	GetCardPrintByID(ctx context.Context, id string) (*model.CardPrint, error)
	ListCardPrintsBySet(ctx context.Context, setCode string, limit int) ([]model.CardPrint, error)
	// ListPrintsNeedingRefresh returns prints with no fused observation newer
	// than maxAge, oldest-first.
	ListPrintsNeedingRefresh(ctx context.Context, maxAge time.Duration, limit int) ([]model.CardPrint, error)

	// Prices
	InsertCardFloor(ctx context.Context, floor model.CardFloor) error
	InsertPriceObservation(ctx context.Context, obs model.PriceObservation) error
	// LatestFusedMid returns the newest fused mid no older than maxAge;
	// maxAge <= 0 applies no age bound.
	LatestFusedMid(ctx context.Context, cardID string, cond model.Condition, maxAge time.Duration) (*float64, error)
	LatestFloors(ctx context.Context, cardID string, cond model.Condition) ([]model.CardFloor, error)
	LogPriceError(ctx context.Context, entry model.PriceErrorEntry) error
	PurgeObservations(ctx context.Context, olderThan time.Duration) (int, error)
	PriceStatus(ctx context.Context) (*PriceStatus, error)

	// CardName resolves an identity to its display name for marketplace
	// queries.
	CardName(ctx context.Context, ident model.Identity) (string, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
