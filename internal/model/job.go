package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus represents the current state of a queued work item.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether the status will never transition again on its own.
// An error item with attempts left is retryable and therefore not terminal.
func (s JobStatus) Terminal(attempts, maxAttempts int) bool {
	switch s {
	case JobStatusDone:
		return true
	case JobStatusError:
		return attempts >= maxAttempts
	default:
		return false
	}
}

// JobName discriminates which handler executes a work item.
type JobName string

const (
	JobImportSetCards  JobName = "import_set_cards"
	JobImportSetPrices JobName = "import_set_prices"
	JobHydrateCard     JobName = "hydrate_card"
	JobRefreshPrices   JobName = "refresh_prices"
)

// JobPayload is the tagged union of per-job payload shapes. Each handler
// receives exactly one variant, checked at enqueue time.
type JobPayload interface {
	JobName() JobName
	Validate() error
}

// ImportSetCardsPayload imports the full card list for a set, page by page.
type ImportSetCardsPayload struct {
	SetCode string `json:"set_code"`
	Lang    string `json:"lang,omitempty"`
}

func (p ImportSetCardsPayload) JobName() JobName { return JobImportSetCards }

func (p ImportSetCardsPayload) Validate() error {
	if p.SetCode == "" {
		return eris.New("import_set_cards: missing set_code")
	}
	return nil
}

// ImportSetPricesPayload refreshes prices for every print in a set.
type ImportSetPricesPayload struct {
	SetCode string `json:"set_code"`
}

func (p ImportSetPricesPayload) JobName() JobName { return JobImportSetPrices }

func (p ImportSetPricesPayload) Validate() error {
	if p.SetCode == "" {
		return eris.New("import_set_prices: missing set_code")
	}
	return nil
}

// HydrateCardPayload imports catalog data and prices for a single print.
type HydrateCardPayload struct {
	SetCode string `json:"set_code"`
	Number  string `json:"number"`
	Lang    string `json:"lang,omitempty"`
}

func (p HydrateCardPayload) JobName() JobName { return JobHydrateCard }

func (p HydrateCardPayload) Validate() error {
	if p.SetCode == "" || p.Number == "" {
		return eris.New("hydrate_card: missing set_code/number")
	}
	return nil
}

// RefreshPricesPayload recomputes prices for a bounded batch of prints.
type RefreshPricesPayload struct {
	Limit int `json:"limit,omitempty"`
}

func (p RefreshPricesPayload) JobName() JobName { return JobRefreshPrices }

func (p RefreshPricesPayload) Validate() error { return nil }

// ParseJobPayload decodes raw payload JSON into the variant for name.
func ParseJobPayload(name JobName, raw []byte) (JobPayload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var payload JobPayload
	switch name {
	case JobImportSetCards:
		var p ImportSetCardsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrapf(err, "job: decode %s payload", name)
		}
		payload = p
	case JobImportSetPrices:
		var p ImportSetPricesPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrapf(err, "job: decode %s payload", name)
		}
		payload = p
	case JobHydrateCard:
		var p HydrateCardPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrapf(err, "job: decode %s payload", name)
		}
		payload = p
	case JobRefreshPrices:
		var p RefreshPricesPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrapf(err, "job: decode %s payload", name)
		}
		payload = p
	default:
		return nil, eris.Errorf("job: unknown name %q", name)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// WorkItem is a generic named job in the durable queue.
type WorkItem struct {
	ID          string          `json:"id"`
	Name        JobName         `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	DedupKey    string          `json:"dedup_key,omitempty"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CatalogImportItem is a queue item keyed by a normalized identity triple.
// The triple is unique among non-terminal items; rows are kept after
// completion for audit and never deleted.
type CatalogImportItem struct {
	ID        string    `json:"id"`
	SetCode   string    `json:"set_code"`
	Number    string    `json:"number"`
	Lang      string    `json:"lang"`
	Status    JobStatus `json:"status"`
	Retries   int       `json:"retries"`
	LastError string    `json:"last_error,omitempty"`
	// ScheduledAt gates claiming: failed items are pushed into the future by
	// the backoff schedule.
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Identity returns the item's identity triple.
func (c CatalogImportItem) Identity() Identity {
	return Identity{SetCode: c.SetCode, Number: c.Number, Lang: c.Lang}
}

// DrainCounts summarizes one drain invocation. Batch endpoints always return
// counts, even when individual items failed.
type DrainCounts struct {
	Processed   int `json:"processed"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	PriceErrors int `json:"price_error_count"`
}
