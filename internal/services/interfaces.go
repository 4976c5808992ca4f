package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/cargodesk/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Candidate         = domain.Candidate
	ServiceLineItem   = domain.ServiceLineItem
	ProductLineItem   = domain.ProductLineItem
	OrderDraft        = domain.OrderDraft
	GoodsSubmission   = domain.GoodsSubmission
	SubmissionReceipt = domain.SubmissionReceipt
	ReadinessReport   = domain.ReadinessReport
)

// EditorService hosts line-item editor sessions. Every operation on a session is serialised,
// and sessions are discarded on close, on successful submit or after the idle timeout.
type EditorService interface {
	OpenSession(ctx context.Context, cmd OpenEditorSessionCommand) (EditorSnapshot, error)
	Snapshot(ctx context.Context, sessionID string) (EditorSnapshot, error)
	CloseSession(ctx context.Context, sessionID string) error

	UpdateDraft(ctx context.Context, cmd UpdateDraftCommand) (EditorSnapshot, error)
	SelectCandidate(ctx context.Context, cmd SelectCandidateCommand) (EditorSnapshot, error)
	ClearSelection(ctx context.Context, sessionID string) (EditorSnapshot, error)

	AddServiceItem(ctx context.Context, sessionID string) (EditorSnapshot, error)
	UpdateServiceItem(ctx context.Context, cmd UpdateServiceItemCommand) (EditorSnapshot, error)
	RemoveServiceItems(ctx context.Context, cmd ServiceItemsCommand) (EditorSnapshot, error)
	DuplicateServiceItems(ctx context.Context, cmd ServiceItemsCommand) (EditorSnapshot, error)
	BulkCreateServiceItems(ctx context.Context, cmd BulkCreateCommand) (EditorSnapshot, error)

	UpdateProductItem(ctx context.Context, cmd UpdateProductItemCommand) (EditorSnapshot, error)

	// Submit validates and persists the session. Validation failures return *ValidationError and
	// persistence failures *SubmissionError; the session survives both so the user can retry.
	Submit(ctx context.Context, sessionID string) (SubmitResult, error)

	// EvictIdle drops sessions idle for longer than the configured timeout.
	EvictIdle(ctx context.Context) int
}

// GoodsEventPublisher announces persisted goods submissions to downstream consumers.
type GoodsEventPublisher interface {
	PublishGoodsSubmitted(ctx context.Context, event GoodsSubmittedEvent) (string, error)
}

// GoodsSubmittedEvent is the message published after a successful submit.
type GoodsSubmittedEvent struct {
	ShipmentID  string          `json:"shipmentId"`
	SessionID   string          `json:"sessionId"`
	OperatorID  string          `json:"operatorId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Created     int             `json:"created"`
	Updated     int             `json:"updated"`
	Deleted     int             `json:"deleted"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// OpenEditorSessionCommand opens an editor for an existing shipment (ShipmentID set) or a new one.
// The initial draft fields apply to new shipments only.
type OpenEditorSessionCommand struct {
	ShipmentID          string
	DestinationBranchID int64
	SenderID            int64
	RecipientID         int64
	PaymentMethod       string
	OperatorID          string
}

// UpdateDraftCommand changes shared draft fields. Nil fields are left untouched.
type UpdateDraftCommand struct {
	SessionID             string
	DestinationBranchID   *int64
	SenderID              *int64
	RecipientID           *int64
	PaymentMethod         *string
	MarkupPercent         *decimal.Decimal
	DiscountCustomPercent *decimal.Decimal
	DeclaredValue         *decimal.Decimal
	CommissionPercent     *decimal.Decimal
}

// SelectCandidateCommand picks a discount or cashback candidate manually.
type SelectCandidateCommand struct {
	SessionID string
	Kind      domain.CandidateKind
	ID        int64
}

// UpdateServiceItemCommand applies field writes to one service line item atomically.
type UpdateServiceItemCommand struct {
	SessionID string
	ItemID    int64
	Fields    []FieldUpdate
}

// ServiceItemsCommand targets a list of service line items, in order.
type ServiceItemsCommand struct {
	SessionID string
	ItemIDs   []int64
}

// BulkCreateCommand clones the listed items Count times, or adds Count blank items.
type BulkCreateCommand struct {
	SessionID string
	Count     int
	ItemIDs   []int64
}

// UpdateProductItemCommand changes a product's quantity and/or price.
type UpdateProductItemCommand struct {
	SessionID string
	ProductID int64
	Quantity  *int
	Price     *decimal.Decimal
}

// EditorSnapshot is the full observable state of a session after an operation.
// UnavailableProducts lists product ids the destination catalog does not offer.
type EditorSnapshot struct {
	SessionID           string
	Draft               OrderDraft
	Services            []ServiceLineItem
	Products            []ProductLineItem
	UnavailableProducts []int64
	Candidates          []Candidate
	Totals              Totals
	ExpiresAt           time.Time
}

// SubmitResult reports a persisted submission.
type SubmitResult struct {
	SessionID   string
	ShipmentID  string
	Amount      decimal.Decimal
	Created     int
	Updated     int
	Deleted     int
	SubmittedAt time.Time
	EventID     string
}
