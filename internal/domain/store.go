package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// InstrumentStore persists the instrument catalog and its type-specific
// extensions.
type InstrumentStore interface {
	// Create inserts a new instrument. It returns ErrDuplicateKey when the
	// symbol is already registered.
	Create(ctx context.Context, inst Instrument) error
	GetByID(ctx context.Context, id string) (Instrument, error)
	GetBySymbol(ctx context.Context, symbol string) (Instrument, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Instrument, error)
	SetActive(ctx context.Context, id string, active bool, delistedAt *time.Time) error

	// AttachDetails stores the type-specific extension row. It returns
	// ErrDuplicateKey when a details row already exists for the instrument.
	// Variant/type agreement is the catalog's responsibility.
	AttachDetails(ctx context.Context, instrumentID string, details TypeDetails) error
	GetDetails(ctx context.Context, instrumentID string) (TypeDetails, error)
}

// OrderStore persists orders and their append-only history. Implementations
// must make every write of an order row atomic with its history append: an
// observer never sees one without the other.
type OrderStore interface {
	// Create inserts a new order together with its initial history entry.
	Create(ctx context.Context, order Order, entry OrderHistory) error
	GetByID(ctx context.Context, id string) (Order, error)

	// Transition replaces the order's mutable fields and appends a history
	// entry, but only if the stored status still equals from. It returns
	// ErrInvalidTransition when another writer got there first.
	Transition(ctx context.Context, order Order, from OrderStatus, entry OrderHistory) error

	History(ctx context.Context, orderID string) ([]OrderHistory, error)
	ListByStrategy(ctx context.Context, strategyID string, opts ListOpts) ([]Order, error)
	ListOpen(ctx context.Context) ([]Order, error)
}

// PositionStore persists positions. Implementations enforce the at-most-one
// OPEN row per (strategy, instrument) invariant at commit time and return
// ErrInvariantViolation when a create would break it.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// GetOpen returns the OPEN position for the pair, or ErrNotFound.
	GetOpen(ctx context.Context, strategyID, instrumentID string) (Position, error)
	// ListOpen returns open positions, all strategies when strategyID is
	// empty.
	ListOpen(ctx context.Context, strategyID string) ([]Position, error)
	ListHistory(ctx context.Context, strategyID string, opts ListOpts) ([]Position, error)
}

// StrategyStore persists strategy registrations and configuration.
type StrategyStore interface {
	// Create registers a strategy. It returns ErrDuplicateKey when the id is
	// taken.
	Create(ctx context.Context, s Strategy) error
	Get(ctx context.Context, id string) (Strategy, error)
	UpdateConfig(ctx context.Context, id string, config map[string]any) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetExecutionMode(ctx context.Context, id string, mode ExecutionMode) error
	List(ctx context.Context) ([]Strategy, error)
}

// CredentialStore persists encrypted broker credentials.
type CredentialStore interface {
	Put(ctx context.Context, creds BrokerCredentials) error
	Get(ctx context.Context, broker string) (BrokerCredentials, error)
	Delete(ctx context.Context, broker string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
