package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Totals summarises the monetary state of a draft.
type Totals struct {
	Base             decimal.Decimal
	Final            decimal.Decimal
	Amount           decimal.Decimal
	CommissionAmount decimal.Decimal
}

// OrderDraftControllerDeps bundles the stores and reference data a controller orchestrates.
type OrderDraftControllerDeps struct {
	Draft     domain.OrderDraft
	Services  *ServiceLineItemStore
	Products  *ProductLineItemStore
	Resolver  DiscountCashbackResolver
	Discounts []domain.DiscountCounterparty
	Cashbacks []domain.CashbackGrant
}

// OrderDraftController owns the shared draft fields and drives both line item stores.
type OrderDraftController struct {
	draft      domain.OrderDraft
	services   *ServiceLineItemStore
	products   *ProductLineItemStore
	resolver   DiscountCashbackResolver
	discounts  []domain.DiscountCounterparty
	cashbacks  []domain.CashbackGrant
	candidates []Candidate
}

// NewOrderDraftController wires a controller around seeded stores. Candidates are rebuilt for
// the seeded counterparties but a persisted selection is kept as loaded.
func NewOrderDraftController(deps OrderDraftControllerDeps) (*OrderDraftController, error) {
	if deps.Services == nil {
		return nil, errors.New("draft controller: service store is required")
	}
	if deps.Products == nil {
		return nil, errors.New("draft controller: product store is required")
	}

	draft := deps.Draft
	draft.DeletedServiceItems = nil
	c := &OrderDraftController{
		draft:     draft,
		services:  deps.Services,
		products:  deps.Products,
		resolver:  deps.Resolver,
		discounts: append([]domain.DiscountCounterparty(nil), deps.Discounts...),
		cashbacks: append([]domain.CashbackGrant(nil), deps.Cashbacks...),
	}
	c.candidates = c.resolver.Resolve(c.draft.SenderID, c.draft.RecipientID, c.discounts, c.cashbacks)
	c.ComputeCommission()
	return c, nil
}

// Draft returns the current draft including the deletion ledger.
func (c *OrderDraftController) Draft() domain.OrderDraft {
	draft := c.draft
	draft.DeletedServiceItems = c.services.Deleted()
	return draft
}

// Services exposes the service line item store.
func (c *OrderDraftController) Services() *ServiceLineItemStore { return c.services }

// Products exposes the product line item store.
func (c *OrderDraftController) Products() *ProductLineItemStore { return c.products }

// Candidates returns the discount/cashback candidates for the current counterparties.
func (c *OrderDraftController) Candidates() []Candidate {
	return append([]Candidate(nil), c.candidates...)
}

// OnDestinationChange moves the draft to a new destination, repricing services and reseeding
// products from the supplied catalog.
func (c *OrderDraftController) OnDestinationChange(destinationBranchID int64, catalog []domain.CatalogEntry) {
	c.draft.DestinationBranchID = destinationBranchID
	c.services.RecalculateForDestinationChange(destinationBranchID)
	c.products.Reseed(destinationBranchID, catalog)
}

// OnCounterpartyChange updates sender and/or recipient (nil leaves a side unchanged, 0 clears it),
// rebuilds the candidates and re-runs auto-selection.
func (c *OrderDraftController) OnCounterpartyChange(senderID, recipientID *int64) []Candidate {
	if senderID != nil {
		c.draft.SenderID = *senderID
	}
	if recipientID != nil {
		c.draft.RecipientID = *recipientID
	}
	c.candidates = c.resolver.Resolve(c.draft.SenderID, c.draft.RecipientID, c.discounts, c.cashbacks)
	c.applySelection(c.resolver.AutoSelect(c.draft.SenderID, c.draft.RecipientID, c.candidates))
	return c.Candidates()
}

// SelectCandidate selects a candidate manually. A held selection must be cleared first.
func (c *OrderDraftController) SelectCandidate(kind domain.CandidateKind, id int64) error {
	if c.draft.SelectedDiscountID != 0 || c.draft.SelectedCashbackID != 0 {
		return ErrSelectionLocked
	}
	for _, candidate := range c.candidates {
		if candidate.Kind == kind && candidate.ID == id {
			c.applySelection(selectionFor(candidate, c.draft.SenderID))
			return nil
		}
	}
	return fmt.Errorf("%w: %s %d", ErrCandidateNotFound, kind, id)
}

// ClearSelection drops both the discount and the cashback selection.
func (c *OrderDraftController) ClearSelection() {
	c.applySelection(Selection{})
}

func (c *OrderDraftController) applySelection(sel Selection) {
	c.draft.SelectedDiscountID = sel.DiscountID
	c.draft.SelectedCashbackID = sel.CashbackID
	c.draft.CashbackTargetRole = ""
	if sel.CashbackID != 0 {
		c.draft.CashbackTargetRole = sel.TargetRole
	}
	discount := decimal.Zero
	if sel.DiscountID != 0 {
		discount = sel.DiscountValue
	}
	c.services.ApplyIndividualDiscount(discount)
}

// SetPaymentMethod records the payment method.
func (c *OrderDraftController) SetPaymentMethod(method string) {
	c.draft.PaymentMethod = strings.TrimSpace(method)
}

// SetMarkupPercent records the markup applied to the total.
func (c *OrderDraftController) SetMarkupPercent(value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("%w: markup percent must not be negative", ErrInvalidDraftValue)
	}
	c.draft.MarkupPercent = value
	return nil
}

// SetDiscountCustomPercent records the custom discount percentage. It does not enter the total.
func (c *OrderDraftController) SetDiscountCustomPercent(value decimal.Decimal) error {
	if value.IsNegative() || value.GreaterThan(hundred) {
		return fmt.Errorf("%w: custom discount must be between 0 and 100", ErrInvalidDraftValue)
	}
	c.draft.DiscountCustomPercent = value
	return nil
}

// SetDeclaredValue records the declared cargo value and recomputes the commission.
func (c *OrderDraftController) SetDeclaredValue(value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("%w: declared value must not be negative", ErrInvalidDraftValue)
	}
	c.draft.DeclaredValue = value
	c.ComputeCommission()
	return nil
}

// SetCommissionPercent records the commission rate and recomputes the commission.
func (c *OrderDraftController) SetCommissionPercent(value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("%w: commission percent must not be negative", ErrInvalidDraftValue)
	}
	c.draft.CommissionPercent = value
	c.ComputeCommission()
	return nil
}

// ComputeCommission sets commissionAmount = declaredValue * commissionPercent / 100.
func (c *OrderDraftController) ComputeCommission() decimal.Decimal {
	c.draft.CommissionAmount = c.draft.DeclaredValue.Mul(c.draft.CommissionPercent).Div(hundred)
	return c.draft.CommissionAmount
}

// ComputeTotal sums both stores and applies the markup.
func (c *OrderDraftController) ComputeTotal() Totals {
	base := c.services.Sum().Add(c.products.Sum())
	final := base.Mul(decimal.NewFromInt(1).Add(c.draft.MarkupPercent.Div(hundred)))
	return Totals{
		Base:             base,
		Final:            final,
		Amount:           final.Round(serviceMoneyScale),
		CommissionAmount: c.draft.CommissionAmount,
	}
}

// ValidateForSubmit reports every reason the draft cannot be submitted, or nil.
func (c *OrderDraftController) ValidateForSubmit() error {
	var violations []string
	items := c.services.Items()
	if len(items) == 0 {
		violations = append(violations, "no services selected")
	}
	for i, item := range items {
		var missing []string
		if item.ProductTypeID == 0 {
			missing = append(missing, "product type")
		}
		if item.Weight == nil || !item.Weight.IsPositive() {
			missing = append(missing, "weight")
		}
		if len(missing) > 0 {
			violations = append(violations, fmt.Sprintf("service %d (barcode %s): missing %s", i+1, item.Barcode, strings.Join(missing, ", ")))
		}
	}
	if c.draft.DestinationBranchID == 0 {
		violations = append(violations, "destination branch is required")
	}
	if c.draft.SenderID == 0 {
		violations = append(violations, "sender is required")
	}
	if c.draft.RecipientID == 0 {
		violations = append(violations, "recipient is required")
	}
	if c.draft.PaymentMethod == "" {
		violations = append(violations, "payment method is required")
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// BuildSubmission validates the draft and assembles the diff-based persistence payload.
func (c *OrderDraftController) BuildSubmission() (domain.GoodsSubmission, error) {
	if err := c.ValidateForSubmit(); err != nil {
		return domain.GoodsSubmission{}, err
	}

	totals := c.ComputeTotal()
	submission := domain.GoodsSubmission{
		ShipmentID:            c.draft.ShipmentID,
		DestinationBranchID:   c.draft.DestinationBranchID,
		SenderID:              c.draft.SenderID,
		RecipientID:           c.draft.RecipientID,
		PaymentMethod:         c.draft.PaymentMethod,
		MarkupPercent:         c.draft.MarkupPercent,
		DiscountCustomPercent: c.draft.DiscountCustomPercent,
		DeclaredValue:         c.draft.DeclaredValue.Round(serviceMoneyScale),
		CommissionPercent:     c.draft.CommissionPercent,
		CommissionAmount:      c.draft.CommissionAmount.Round(serviceMoneyScale),
		Amount:                totals.Amount,
	}
	if c.draft.SelectedDiscountID != 0 {
		id := c.draft.SelectedDiscountID
		submission.DiscountID = &id
	}
	if c.draft.SelectedCashbackID != 0 {
		id := c.draft.SelectedCashbackID
		submission.CashBackID = &id
		submission.CashBackTarget = string(c.draft.CashbackTargetRole)
	}

	items := c.services.Items()
	submission.Services = make([]domain.SubmittedService, 0, len(items))
	for _, item := range items {
		submission.Services = append(submission.Services, normaliseService(item))
	}
	deleted := c.services.Deleted()
	submission.DeletedServices = make([]domain.SubmittedService, 0, len(deleted))
	for _, item := range deleted {
		if item.IsNew {
			continue
		}
		submission.DeletedServices = append(submission.DeletedServices, normaliseService(item))
	}
	selected := c.products.Selected()
	submission.Products = make([]domain.SubmittedProduct, 0, len(selected))
	for _, item := range selected {
		submission.Products = append(submission.Products, domain.SubmittedProduct{
			ID:         item.ID,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice.Round(serviceMoneyScale),
			Quantity:   item.Quantity,
			LineSum:    item.LineSum.Round(serviceMoneyScale),
			IsNew:      item.IsNew,
			IsModified: item.IsModified,
		})
	}
	return submission, nil
}

func normaliseService(item domain.ServiceLineItem) domain.SubmittedService {
	weight := decimal.Zero
	if item.Weight != nil {
		weight = item.Weight.Round(serviceWeightScale)
	}
	return domain.SubmittedService{
		ID:                 item.ID,
		NomenclatureID:     item.NomenclatureID,
		ProductTypeID:      item.ProductTypeID,
		Barcode:            item.Barcode,
		BagNumber:          item.BagNumber,
		Quantity:           item.Quantity,
		Weight:             weight,
		TariffRate:         item.TariffRate.Round(serviceMoneyScale),
		IndividualDiscount: item.IndividualDiscount.Round(serviceMoneyScale),
		IsPriceOverridden:  item.IsPriceOverridden,
		UnitPrice:          item.UnitPrice.Round(serviceMoneyScale),
		LineSum:            item.LineSum.Round(serviceMoneyScale),
		IsNew:              item.IsNew,
		IsModified:         item.IsModified,
	}
}
