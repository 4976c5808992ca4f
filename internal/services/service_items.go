package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
)

const (
	defaultMaxBulkCount  = 500
	maxBarcodeDrawings   = 32
	defaultServiceQty    = 1
	serviceWeightScale   = 3
	serviceMoneyScale    = 2
	firstLocalServiceID  = int64(-1)
	serviceItemsOpPrefix = "service items"
)

// ServiceField names a writable field of a service line item.
type ServiceField string

const (
	FieldNomenclature       ServiceField = "nomenclature_id"
	FieldProductType        ServiceField = "product_type_id"
	FieldBagNumber          ServiceField = "bag_number"
	FieldQuantity           ServiceField = "quantity"
	FieldWeight             ServiceField = "weight"
	FieldIndividualDiscount ServiceField = "individual_discount"
	FieldUnitPrice          ServiceField = "unit_price"
	FieldPriceOverridden    ServiceField = "is_price_overridden"
)

// ParseServiceField maps a wire field name to a ServiceField.
func ParseServiceField(name string) (ServiceField, bool) {
	field := ServiceField(strings.TrimSpace(strings.ToLower(name)))
	switch field {
	case FieldNomenclature, FieldProductType, FieldBagNumber, FieldQuantity,
		FieldWeight, FieldIndividualDiscount, FieldUnitPrice, FieldPriceOverridden:
		return field, true
	}
	return "", false
}

type fieldValueKind int

const (
	fieldValueNull fieldValueKind = iota
	fieldValueInt
	fieldValueDecimal
	fieldValueText
	fieldValueBool
)

// FieldValue carries a typed value for UpdateField.
type FieldValue struct {
	kind    fieldValueKind
	integer int64
	number  decimal.Decimal
	text    string
	flag    bool
}

func IntValue(v int64) FieldValue               { return FieldValue{kind: fieldValueInt, integer: v} }
func DecimalValue(v decimal.Decimal) FieldValue { return FieldValue{kind: fieldValueDecimal, number: v} }
func TextValue(v string) FieldValue             { return FieldValue{kind: fieldValueText, text: v} }
func BoolValue(v bool) FieldValue               { return FieldValue{kind: fieldValueBool, flag: v} }
func NullValue() FieldValue                     { return FieldValue{kind: fieldValueNull} }

// IsNull reports whether the value clears the field.
func (v FieldValue) IsNull() bool { return v.kind == fieldValueNull }

func (v FieldValue) asInt() (int64, bool) {
	switch v.kind {
	case fieldValueInt:
		return v.integer, true
	case fieldValueDecimal:
		if v.number.IsInteger() {
			return v.number.IntPart(), true
		}
	}
	return 0, false
}

func (v FieldValue) asDecimal() (decimal.Decimal, bool) {
	switch v.kind {
	case fieldValueDecimal:
		return v.number, true
	case fieldValueInt:
		return decimal.NewFromInt(v.integer), true
	}
	return decimal.Zero, false
}

// FieldUpdate pairs a field with its new value.
type FieldUpdate struct {
	Field ServiceField
	Value FieldValue
}

// ServiceLineItemStoreDeps bundles collaborators of a service line item store.
type ServiceLineItemStoreDeps struct {
	Tariffs      *TariffResolver
	Barcodes     BarcodeGenerator
	MaxBulkCount int
	// DestinationBranchID is the draft destination the store prices against.
	DestinationBranchID int64
	// IndividualDiscount is applied to items created in the store.
	IndividualDiscount decimal.Decimal
}

// ServiceLineItemStore owns the mutable table of service line items and the deletion ledger.
// It is not safe for concurrent use; callers serialise access per editing session.
type ServiceLineItemStore struct {
	tariffs      *TariffResolver
	barcodes     BarcodeGenerator
	maxBulkCount int

	destinationID int64
	discount      decimal.Decimal

	items       []domain.ServiceLineItem
	nextLocalID int64
	barcodesUse map[string]struct{}

	deleted    []domain.ServiceLineItem
	deletedIDs map[int64]struct{}
}

// NewServiceLineItemStore constructs a store seeded with previously persisted items.
func NewServiceLineItemStore(deps ServiceLineItemStoreDeps, seed []domain.ServiceLineItem) (*ServiceLineItemStore, error) {
	if deps.Barcodes == nil {
		return nil, fmt.Errorf("%s: barcode generator is required", serviceItemsOpPrefix)
	}
	tariffs := deps.Tariffs
	if tariffs == nil {
		tariffs = NewTariffResolver(nil)
	}
	maxBulk := deps.MaxBulkCount
	if maxBulk <= 0 {
		maxBulk = defaultMaxBulkCount
	}

	store := &ServiceLineItemStore{
		tariffs:       tariffs,
		barcodes:      deps.Barcodes,
		maxBulkCount:  maxBulk,
		destinationID: deps.DestinationBranchID,
		discount:      deps.IndividualDiscount,
		items:         make([]domain.ServiceLineItem, 0, len(seed)),
		nextLocalID:   firstLocalServiceID,
		barcodesUse:   make(map[string]struct{}, len(seed)),
		deletedIDs:    make(map[int64]struct{}),
	}
	for _, item := range seed {
		clone := item.Clone()
		if clone.ID <= store.nextLocalID {
			store.nextLocalID = clone.ID - 1
		}
		if clone.Barcode != "" {
			store.barcodesUse[clone.Barcode] = struct{}{}
		}
		store.items = append(store.items, clone)
	}
	return store, nil
}

// DestinationBranchID returns the destination the store currently prices against.
func (s *ServiceLineItemStore) DestinationBranchID() int64 {
	return s.destinationID
}

// Len returns the number of items in the table.
func (s *ServiceLineItemStore) Len() int {
	return len(s.items)
}

// Items returns copies of the current items in table order.
func (s *ServiceLineItemStore) Items() []domain.ServiceLineItem {
	out := make([]domain.ServiceLineItem, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out
}

// Item returns a copy of the item with the given id.
func (s *ServiceLineItemStore) Item(id int64) (domain.ServiceLineItem, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.ServiceLineItem{}, fmt.Errorf("%w: id %d", ErrServiceItemNotFound, id)
	}
	return s.items[idx].Clone(), nil
}

// Deleted returns the deletion ledger in removal order.
func (s *ServiceLineItemStore) Deleted() []domain.ServiceLineItem {
	out := make([]domain.ServiceLineItem, len(s.deleted))
	for i, item := range s.deleted {
		out[i] = item.Clone()
	}
	return out
}

// Sum returns the sum of all line sums.
func (s *ServiceLineItemStore) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineSum)
	}
	return total
}

// AddItem appends a blank item with a fresh local id and barcode.
func (s *ServiceLineItemStore) AddItem() (domain.ServiceLineItem, error) {
	barcode, err := s.drawBarcode()
	if err != nil {
		return domain.ServiceLineItem{}, err
	}
	item := domain.ServiceLineItem{
		ID:                 s.allocateID(),
		Barcode:            barcode,
		Quantity:           defaultServiceQty,
		IndividualDiscount: s.discount,
		IsNew:              true,
	}
	s.items = append(s.items, item)
	return item.Clone(), nil
}

// UpdateField writes one field of one item and re-derives the dependent fields.
func (s *ServiceLineItemStore) UpdateField(id int64, field ServiceField, value FieldValue) (domain.ServiceLineItem, error) {
	return s.UpdateFields(id, FieldUpdate{Field: field, Value: value})
}

// UpdateFields applies the updates in order. Every value is checked before the first write,
// so a rejected update leaves the item untouched.
func (s *ServiceLineItemStore) UpdateFields(id int64, updates ...FieldUpdate) (domain.ServiceLineItem, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.ServiceLineItem{}, fmt.Errorf("%w: id %d", ErrServiceItemNotFound, id)
	}

	working := s.items[idx].Clone()
	for _, update := range updates {
		if err := s.applyField(&working, update.Field, update.Value); err != nil {
			return domain.ServiceLineItem{}, err
		}
	}
	if len(updates) > 0 && !working.IsNew {
		working.IsModified = true
	}
	s.items[idx] = working
	return working.Clone(), nil
}

func (s *ServiceLineItemStore) applyField(item *domain.ServiceLineItem, field ServiceField, value FieldValue) error {
	switch field {
	case FieldNomenclature:
		ref, err := optionalRef(field, value)
		if err != nil {
			return err
		}
		item.NomenclatureID = ref
	case FieldProductType:
		ref, err := optionalRef(field, value)
		if err != nil {
			return err
		}
		item.ProductTypeID = ref
		s.reprice(item)
	case FieldBagNumber:
		switch {
		case value.IsNull():
			item.BagNumber = ""
		case value.kind == fieldValueText:
			item.BagNumber = strings.TrimSpace(value.text)
		default:
			return invalidField(field, "expected text")
		}
	case FieldQuantity:
		qty, ok := value.asInt()
		if !ok {
			return invalidField(field, "expected integer")
		}
		if qty < 0 {
			return invalidField(field, "must not be negative")
		}
		item.Quantity = int(qty)
	case FieldWeight:
		if value.IsNull() {
			item.Weight = nil
			return nil
		}
		weight, ok := value.asDecimal()
		if !ok {
			return invalidField(field, "expected number")
		}
		if weight.IsNegative() {
			return invalidField(field, "must not be negative")
		}
		item.Weight = &weight
		s.reprice(item)
	case FieldIndividualDiscount:
		discount, ok := value.asDecimal()
		if !ok {
			return invalidField(field, "expected number")
		}
		if discount.IsNegative() {
			return invalidField(field, "must not be negative")
		}
		item.IndividualDiscount = discount
		derivePrice(item)
	case FieldUnitPrice:
		if !item.IsPriceOverridden {
			return fmt.Errorf("%w: unit_price requires a price override", ErrFieldNotEditable)
		}
		price, ok := value.asDecimal()
		if !ok {
			return invalidField(field, "expected number")
		}
		if price.IsNegative() {
			return invalidField(field, "must not be negative")
		}
		item.UnitPrice = price
		recomputeLineSum(item)
	case FieldPriceOverridden:
		if value.kind != fieldValueBool {
			return invalidField(field, "expected boolean")
		}
		item.IsPriceOverridden = value.flag
	default:
		return fmt.Errorf("%w: %q", ErrFieldNotEditable, string(field))
	}
	return nil
}

// RemoveItem deletes one item. Persisted items are appended to the deletion ledger.
func (s *ServiceLineItemStore) RemoveItem(id int64) error {
	return s.RemoveItems([]int64{id})
}

// RemoveItems deletes every listed item. Unknown ids reject the whole call.
func (s *ServiceLineItemStore) RemoveItems(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	targets := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if s.indexOf(id) < 0 {
			return fmt.Errorf("%w: id %d", ErrServiceItemNotFound, id)
		}
		targets[id] = struct{}{}
	}

	kept := s.items[:0]
	for _, item := range s.items {
		if _, remove := targets[item.ID]; !remove {
			kept = append(kept, item)
			continue
		}
		delete(s.barcodesUse, item.Barcode)
		s.recordDeletion(item)
	}
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = domain.ServiceLineItem{}
	}
	s.items = kept
	return nil
}

// DuplicateSelected clones the selected items in table order as new rows.
func (s *ServiceLineItemStore) DuplicateSelected(ids []int64) ([]domain.ServiceLineItem, error) {
	sources, err := s.selected(ids)
	if err != nil {
		return nil, err
	}
	return s.cloneAll(sources)
}

// BulkCreate clones the selected items count times, or appends count blank items when no
// ids are given. A non-positive or oversized count is rejected without changes.
func (s *ServiceLineItemStore) BulkCreate(count int, ids []int64) ([]domain.ServiceLineItem, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", ErrBulkCountInvalid, count)
	}
	sources, err := s.selected(ids)
	if err != nil {
		return nil, err
	}
	planned := count
	if len(sources) > 0 {
		planned = count * len(sources)
	}
	if planned > s.maxBulkCount {
		return nil, fmt.Errorf("%w: %d items exceed the limit of %d", ErrBulkCountInvalid, planned, s.maxBulkCount)
	}

	created := make([]domain.ServiceLineItem, 0, planned)
	for i := 0; i < count; i++ {
		if len(sources) == 0 {
			item, err := s.AddItem()
			if err != nil {
				return created, err
			}
			created = append(created, item)
			continue
		}
		batch, err := s.cloneAll(sources)
		created = append(created, batch...)
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

// RecalculateForDestinationChange re-resolves tariffs against the new destination. Items
// whose product type has a rate there are repriced and marked modified. On a miss the rate
// drops to zero and the unit price and line sum are left as-is.
func (s *ServiceLineItemStore) RecalculateForDestinationChange(destinationBranchID int64) int {
	s.destinationID = destinationBranchID
	changed := 0
	for i := range s.items {
		item := &s.items[i]
		if item.ProductTypeID == 0 {
			continue
		}
		rate, ok := s.tariffs.Lookup(destinationBranchID, item.ProductTypeID)
		if !ok {
			item.TariffRate = decimal.Zero
			continue
		}
		item.TariffRate = rate
		derivePrice(item)
		if !item.IsNew {
			item.IsModified = true
		}
		changed++
	}
	return changed
}

// ApplyIndividualDiscount pushes a counterparty discount into every item and reprices the
// ones whose discount actually changed. The pushed value replaces any per-item discount set
// through UpdateField; the last counterparty or selection change wins.
func (s *ServiceLineItemStore) ApplyIndividualDiscount(value decimal.Decimal) int {
	if value.IsNegative() {
		value = decimal.Zero
	}
	s.discount = value
	changed := 0
	for i := range s.items {
		item := &s.items[i]
		if item.IndividualDiscount.Equal(value) {
			continue
		}
		item.IndividualDiscount = value
		derivePrice(item)
		if !item.IsNew {
			item.IsModified = true
		}
		changed++
	}
	return changed
}

func (s *ServiceLineItemStore) reprice(item *domain.ServiceLineItem) {
	rate, ok := s.tariffs.Lookup(s.destinationID, item.ProductTypeID)
	if !ok {
		item.TariffRate = decimal.Zero
		recomputeLineSum(item)
		return
	}
	item.TariffRate = rate
	derivePrice(item)
}

// derivePrice recomputes the tariff price of a non-overridden item with a known rate, then the line sum.
func derivePrice(item *domain.ServiceLineItem) {
	if !item.IsPriceOverridden && item.TariffRate.IsPositive() {
		item.UnitPrice = EffectiveUnitPrice(item.TariffRate, item.IndividualDiscount)
	}
	recomputeLineSum(item)
}

func recomputeLineSum(item *domain.ServiceLineItem) {
	if item.Weight == nil || item.Weight.IsNegative() {
		return
	}
	item.LineSum = item.Weight.Mul(item.UnitPrice)
}

// EffectiveUnitPrice returns max(rate - discount, 0).
func EffectiveUnitPrice(rate, discount decimal.Decimal) decimal.Decimal {
	price := rate.Sub(discount)
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}

func (s *ServiceLineItemStore) selected(ids []int64) ([]domain.ServiceLineItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if s.indexOf(id) < 0 {
			return nil, fmt.Errorf("%w: id %d", ErrServiceItemNotFound, id)
		}
		wanted[id] = struct{}{}
	}
	sources := make([]domain.ServiceLineItem, 0, len(wanted))
	for _, item := range s.items {
		if _, ok := wanted[item.ID]; ok {
			sources = append(sources, item.Clone())
		}
	}
	return sources, nil
}

func (s *ServiceLineItemStore) cloneAll(sources []domain.ServiceLineItem) ([]domain.ServiceLineItem, error) {
	created := make([]domain.ServiceLineItem, 0, len(sources))
	for _, source := range sources {
		barcode, err := s.drawBarcode()
		if err != nil {
			return created, err
		}
		clone := source.Clone()
		clone.ID = s.allocateID()
		clone.Barcode = barcode
		clone.IsNew = true
		clone.IsModified = false
		s.items = append(s.items, clone)
		created = append(created, clone.Clone())
	}
	return created, nil
}

func (s *ServiceLineItemStore) allocateID() int64 {
	id := s.nextLocalID
	s.nextLocalID--
	return id
}

func (s *ServiceLineItemStore) drawBarcode() (string, error) {
	for attempt := 0; attempt < maxBarcodeDrawings; attempt++ {
		candidate := s.barcodes.Generate()
		if candidate == "" {
			continue
		}
		if _, taken := s.barcodesUse[candidate]; taken {
			continue
		}
		s.barcodesUse[candidate] = struct{}{}
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %d drawings collided", ErrBarcodeUnavailable, maxBarcodeDrawings)
}

func (s *ServiceLineItemStore) recordDeletion(item domain.ServiceLineItem) {
	if item.IsNew {
		return
	}
	if _, seen := s.deletedIDs[item.ID]; seen {
		return
	}
	s.deletedIDs[item.ID] = struct{}{}
	s.deleted = append(s.deleted, item.Clone())
}

func (s *ServiceLineItemStore) indexOf(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func optionalRef(field ServiceField, value FieldValue) (int64, error) {
	if value.IsNull() {
		return 0, nil
	}
	ref, ok := value.asInt()
	if !ok {
		return 0, invalidField(field, "expected integer id")
	}
	if ref < 0 {
		return 0, invalidField(field, "must not be negative")
	}
	return ref, nil
}

func invalidField(field ServiceField, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidFieldValue, string(field), reason)
}
