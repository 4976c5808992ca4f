package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CandidateKind tags a discount/cashback candidate variant.
type CandidateKind string

const (
	// CandidateDiscount marks a per-counterparty discount candidate.
	CandidateDiscount CandidateKind = "discount"
	// CandidateCashback marks a cashback grant candidate.
	CandidateCashback CandidateKind = "cashback"
)

// CashbackTargetRole identifies which side of the shipment receives the cashback.
type CashbackTargetRole string

const (
	CashbackTargetSender   CashbackTargetRole = "sender"
	CashbackTargetReceiver CashbackTargetRole = "receiver"
)

// ServiceLineItem is one bag/parcel unit on a shipment's goods record.
type ServiceLineItem struct {
	ID                 int64
	NomenclatureID     int64
	ProductTypeID      int64
	Barcode            string
	BagNumber          string
	Quantity           int
	Weight             *decimal.Decimal
	TariffRate         decimal.Decimal
	IndividualDiscount decimal.Decimal
	IsPriceOverridden  bool
	UnitPrice          decimal.Decimal
	LineSum            decimal.Decimal
	IsNew              bool
	IsModified         bool
}

// Clone returns a deep copy of the item.
func (i ServiceLineItem) Clone() ServiceLineItem {
	out := i
	if i.Weight != nil {
		w := *i.Weight
		out.Weight = &w
	}
	return out
}

// ProductLineItem is an optional add-on product selected from the destination catalog.
type ProductLineItem struct {
	ID         int64
	Name       string
	UnitPrice  decimal.Decimal
	Editable   bool
	Quantity   int
	LineSum    decimal.Decimal
	IsNew      bool
	IsModified bool
}

// Candidate is a discount or cashback option resolved for the current sender/recipient pair.
type Candidate struct {
	Kind           CandidateKind
	ID             int64
	CounterpartyID int64
	Value          decimal.Decimal
	Label          string
	Source         string
}

// OrderDraft holds the shared fields of the goods editor.
type OrderDraft struct {
	ShipmentID            string
	DestinationBranchID   int64
	SenderID              int64
	RecipientID           int64
	PaymentMethod         string
	MarkupPercent         decimal.Decimal
	DiscountCustomPercent decimal.Decimal
	DeclaredValue         decimal.Decimal
	CommissionPercent     decimal.Decimal
	CommissionAmount      decimal.Decimal
	SelectedDiscountID    int64
	SelectedCashbackID    int64
	CashbackTargetRole    CashbackTargetRole
	DeletedServiceItems   []ServiceLineItem
}

// TariffRow is one entry of the (branch, product type) rate matrix.
type TariffRow struct {
	BranchID      int64
	ProductTypeID int64
	Rate          decimal.Decimal
}

// ProductType describes a cargo category used to pick a tariff.
type ProductType struct {
	ID   int64
	Name string
}

// Nomenclature describes a goods naming entry shown next to service items.
type Nomenclature struct {
	ID   int64
	Name string
}

// CatalogEntry is a product offered at a destination branch.
type CatalogEntry struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Editable bool
}

// DiscountCounterparty is a client record carrying a per-kilogram discount.
type DiscountCounterparty struct {
	ID       int64
	Name     string
	Discount decimal.Decimal
}

// CashbackGrant is a cashback amount granted to a counterparty.
type CashbackGrant struct {
	ID             int64
	CounterpartyID int64
	Amount         decimal.Decimal
	Label          string
}

// GoodsRecord is a persisted shipment goods record used to seed the editor.
type GoodsRecord struct {
	ShipmentID string
	Draft      OrderDraft
	Services   []ServiceLineItem
	Products   []ProductLineItem
	UpdatedAt  time.Time
}

// SubmittedService is the normalised wire form of a service line item.
type SubmittedService struct {
	ID                 int64           `json:"id"`
	NomenclatureID     int64           `json:"nomenclature_id,omitempty"`
	ProductTypeID      int64           `json:"product_type_id"`
	Barcode            string          `json:"barcode"`
	BagNumber          string          `json:"bag_number,omitempty"`
	Quantity           int             `json:"quantity"`
	Weight             decimal.Decimal `json:"weight"`
	TariffRate         decimal.Decimal `json:"tariff_rate"`
	IndividualDiscount decimal.Decimal `json:"individual_discount"`
	IsPriceOverridden  bool            `json:"is_price_overridden"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	LineSum            decimal.Decimal `json:"line_sum"`
	IsNew              bool            `json:"is_new"`
	IsModified         bool            `json:"is_modified"`
}

// SubmittedProduct is the wire form of a selected product line item.
type SubmittedProduct struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	LineSum    decimal.Decimal `json:"line_sum"`
	IsNew      bool            `json:"is_new"`
	IsModified bool            `json:"is_modified"`
}

// GoodsSubmission is the diff-based payload handed to the persistence collaborator.
type GoodsSubmission struct {
	ShipmentID            string             `json:"shipment_id,omitempty"`
	DestinationBranchID   int64              `json:"destination_branch_id"`
	SenderID              int64              `json:"sender_id"`
	RecipientID           int64              `json:"recipient_id"`
	PaymentMethod         string             `json:"payment_method"`
	MarkupPercent         decimal.Decimal    `json:"markup_percent"`
	DiscountCustomPercent decimal.Decimal    `json:"discount_custom"`
	DeclaredValue         decimal.Decimal    `json:"declared_value"`
	CommissionPercent     decimal.Decimal    `json:"commission_percent"`
	CommissionAmount      decimal.Decimal    `json:"commission_amount"`
	DiscountID            *int64             `json:"discount_id"`
	CashBackID            *int64             `json:"cash_back_id"`
	CashBackTarget        string             `json:"cash_back_target,omitempty"`
	Amount                decimal.Decimal    `json:"amount"`
	Services              []SubmittedService `json:"services"`
	DeletedServices       []SubmittedService `json:"deleted_services"`
	Products              []SubmittedProduct `json:"products"`
}

// SubmissionReceipt reports the outcome of a persisted submission.
type SubmissionReceipt struct {
	ShipmentID  string
	Amount      decimal.Decimal
	Created     int
	Updated     int
	Deleted     int
	SubmittedAt time.Time
}
