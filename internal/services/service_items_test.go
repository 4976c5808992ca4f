package services

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
)

func persistedItem(t *testing.T, id int64, barcode string) domain.ServiceLineItem {
	t.Helper()
	return domain.ServiceLineItem{
		ID:                 id,
		ProductTypeID:      5,
		Barcode:            barcode,
		Quantity:           1,
		Weight:             decPtr(t, "10"),
		TariffRate:         dec(t, "12.50"),
		IndividualDiscount: dec(t, "2"),
		UnitPrice:          dec(t, "10.50"),
		LineSum:            dec(t, "105"),
	}
}

func TestServiceStoreAddItem(t *testing.T) {
	store := newTestServiceStore(t, 16)

	first, err := store.AddItem()
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	second, err := store.AddItem()
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if first.ID != -1 || second.ID != -2 {
		t.Fatalf("expected sequential local ids, got %d and %d", first.ID, second.ID)
	}
	if !first.IsNew || first.IsPriceOverridden || first.Quantity != 1 {
		t.Fatalf("unexpected new item %+v", first)
	}
	if first.Barcode == "" || first.Barcode == second.Barcode {
		t.Fatalf("expected distinct barcodes, got %q and %q", first.Barcode, second.Barcode)
	}
}

func TestServiceStoreLocalIDsStayBelowSeed(t *testing.T) {
	seed := persistedItem(t, 3, "A")
	seed.ID = -4
	store := newTestServiceStore(t, 16, seed)

	item, err := store.AddItem()
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.ID != -5 {
		t.Fatalf("expected id below seeded ids, got %d", item.ID)
	}
}

func TestServiceStoreUpdateFieldPricingInvariant(t *testing.T) {
	store := newTestServiceStore(t, 16)
	item, _ := store.AddItem()

	steps := []FieldUpdate{
		{Field: FieldIndividualDiscount, Value: DecimalValue(dec(t, "2"))},
		{Field: FieldProductType, Value: IntValue(5)},
		{Field: FieldWeight, Value: DecimalValue(dec(t, "10"))},
		{Field: FieldProductType, Value: IntValue(6)},
		{Field: FieldWeight, Value: DecimalValue(dec(t, "2.5"))},
		{Field: FieldPriceOverridden, Value: BoolValue(true)},
		{Field: FieldUnitPrice, Value: DecimalValue(dec(t, "3.30"))},
		{Field: FieldWeight, Value: DecimalValue(dec(t, "4"))},
		{Field: FieldPriceOverridden, Value: BoolValue(false)},
		{Field: FieldProductType, Value: IntValue(5)},
		{Field: FieldIndividualDiscount, Value: DecimalValue(dec(t, "20"))},
	}
	for i, step := range steps {
		updated, err := store.UpdateField(item.ID, step.Field, step.Value)
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, step.Field, err)
		}
		if updated.Weight == nil || step.Field == FieldPriceOverridden {
			continue
		}
		if want := expectedLineSum(updated); !updated.LineSum.Equal(want) {
			t.Fatalf("step %d (%s): line sum %s, expected %s", i, step.Field, updated.LineSum, want)
		}
	}

	final, _ := store.Item(item.ID)
	assertDecimal(t, "discount above rate clamps to zero", final.UnitPrice, "0")
	assertDecimal(t, "line sum", final.LineSum, "0")
}

func TestServiceStoreScenarioDestinationChange(t *testing.T) {
	store := newTestServiceStore(t, 16, domain.ServiceLineItem{
		ID:                 11,
		ProductTypeID:      5,
		Barcode:            "2000000000000011",
		Quantity:           1,
		IndividualDiscount: dec(t, "2"),
	})

	item, err := store.UpdateField(11, FieldWeight, DecimalValue(dec(t, "10")))
	if err != nil {
		t.Fatalf("update weight: %v", err)
	}
	assertDecimal(t, "unit price at 16", item.UnitPrice, "10.50")
	assertDecimal(t, "line sum at 16", item.LineSum, "105.00")

	if changed := store.RecalculateForDestinationChange(20); changed != 1 {
		t.Fatalf("expected one repriced item, got %d", changed)
	}
	item, _ = store.Item(11)
	assertDecimal(t, "unit price at 20", item.UnitPrice, "7.00")
	assertDecimal(t, "line sum at 20", item.LineSum, "70.00")
	if !item.IsModified {
		t.Fatalf("expected persisted item marked modified")
	}
}

func TestServiceStoreRecalculateIsIdempotent(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"), persistedItem(t, 2, "B"))
	if _, err := store.AddItem(); err != nil {
		t.Fatalf("add item: %v", err)
	}

	store.RecalculateForDestinationChange(20)
	first := store.Items()
	store.RecalculateForDestinationChange(20)
	second := store.Items()

	if len(first) != len(second) {
		t.Fatalf("item count changed")
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.ID != b.ID || a.IsModified != b.IsModified || a.IsNew != b.IsNew ||
			!a.UnitPrice.Equal(b.UnitPrice) || !a.LineSum.Equal(b.LineSum) || !a.TariffRate.Equal(b.TariffRate) {
			t.Fatalf("second recalculation mutated item %d: %+v vs %+v", a.ID, a, b)
		}
	}
	if second[2].IsModified {
		t.Fatalf("new items must not be marked modified")
	}
}

func TestServiceStoreDestinationMissKeepsPrice(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))

	if changed := store.RecalculateForDestinationChange(99); changed != 0 {
		t.Fatalf("expected no repricing on a miss, got %d", changed)
	}
	item, _ := store.Item(1)
	assertDecimal(t, "unit price kept", item.UnitPrice, "10.50")
	assertDecimal(t, "rate cleared", item.TariffRate, "0")
	if item.IsModified {
		t.Fatalf("a miss must not mark the item modified")
	}
}

func TestServiceStoreDiscountAfterDestinationMissKeepsPrice(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))
	before, _ := store.Item(1)

	store.RecalculateForDestinationChange(99)
	store.ApplyIndividualDiscount(dec(t, "5"))

	item, _ := store.Item(1)
	assertDecimal(t, "unit price", item.UnitPrice, before.UnitPrice.String())
	assertDecimal(t, "line sum", item.LineSum, before.LineSum.String())
	assertDecimal(t, "discount", item.IndividualDiscount, "5")

	if _, err := store.UpdateField(1, FieldIndividualDiscount, DecimalValue(dec(t, "1"))); err != nil {
		t.Fatalf("update discount: %v", err)
	}
	item, _ = store.Item(1)
	assertDecimal(t, "unit price after edit", item.UnitPrice, before.UnitPrice.String())
}

func TestServiceStoreRejectsNegativeValues(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))

	cases := []FieldUpdate{
		{Field: FieldWeight, Value: DecimalValue(dec(t, "-1"))},
		{Field: FieldQuantity, Value: IntValue(-2)},
		{Field: FieldIndividualDiscount, Value: DecimalValue(dec(t, "-0.5"))},
		{Field: FieldProductType, Value: TextValue("five")},
	}
	for _, tc := range cases {
		if _, err := store.UpdateField(1, tc.Field, tc.Value); !errors.Is(err, ErrInvalidFieldValue) {
			t.Fatalf("%s: expected ErrInvalidFieldValue, got %v", tc.Field, err)
		}
	}

	item, _ := store.Item(1)
	assertDecimal(t, "line sum untouched", item.LineSum, "105")
	if item.IsModified {
		t.Fatalf("rejected writes must not mark the item modified")
	}
}

func TestServiceStoreUpdateFieldsIsAtomic(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))

	_, err := store.UpdateFields(1,
		FieldUpdate{Field: FieldWeight, Value: DecimalValue(dec(t, "20"))},
		FieldUpdate{Field: FieldUnitPrice, Value: DecimalValue(dec(t, "1"))},
	)
	if !errors.Is(err, ErrFieldNotEditable) {
		t.Fatalf("expected unit price to be locked without override, got %v", err)
	}
	item, _ := store.Item(1)
	if !item.Weight.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected weight rolled back, got %s", item.Weight)
	}
}

func TestServiceStoreMissingWeightKeepsLineSum(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))

	item, err := store.UpdateField(1, FieldWeight, NullValue())
	if err != nil {
		t.Fatalf("clear weight: %v", err)
	}
	if item.Weight != nil {
		t.Fatalf("expected weight cleared")
	}
	assertDecimal(t, "line sum kept", item.LineSum, "105")

	item, err = store.UpdateField(1, FieldProductType, IntValue(6))
	if err != nil {
		t.Fatalf("change product type: %v", err)
	}
	assertDecimal(t, "unit price repriced", item.UnitPrice, "2")
	assertDecimal(t, "line sum still kept", item.LineSum, "105")
}

func TestServiceStoreOverrideToggleDoesNotRecompute(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))

	if _, err := store.UpdateField(1, FieldPriceOverridden, BoolValue(true)); err != nil {
		t.Fatalf("toggle override: %v", err)
	}
	item, err := store.UpdateField(1, FieldUnitPrice, DecimalValue(dec(t, "8")))
	if err != nil {
		t.Fatalf("write unit price: %v", err)
	}
	assertDecimal(t, "line sum", item.LineSum, "80")

	item, err = store.UpdateField(1, FieldPriceOverridden, BoolValue(false))
	if err != nil {
		t.Fatalf("toggle override off: %v", err)
	}
	assertDecimal(t, "price kept until next edit", item.UnitPrice, "8")

	item, err = store.UpdateField(1, FieldWeight, DecimalValue(dec(t, "10")))
	if err != nil {
		t.Fatalf("write weight: %v", err)
	}
	assertDecimal(t, "tariff price restored", item.UnitPrice, "10.50")
}

func TestServiceStoreDeletionLedger(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"), persistedItem(t, 2, "B"))
	fresh, _ := store.AddItem()

	if err := store.RemoveItem(fresh.ID); err != nil {
		t.Fatalf("remove new item: %v", err)
	}
	if len(store.Deleted()) != 0 {
		t.Fatalf("new items must never reach the ledger")
	}

	if err := store.RemoveItem(1); err != nil {
		t.Fatalf("remove persisted: %v", err)
	}
	if err := store.RemoveItems([]int64{1}); !errors.Is(err, ErrServiceItemNotFound) {
		t.Fatalf("expected second removal to fail, got %v", err)
	}
	if err := store.RemoveItems([]int64{2, 99}); !errors.Is(err, ErrServiceItemNotFound) {
		t.Fatalf("expected unknown id to reject the batch, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("rejected batch must not remove anything, have %d items", store.Len())
	}
	if err := store.RemoveItems([]int64{2}); err != nil {
		t.Fatalf("bulk remove: %v", err)
	}

	deleted := store.Deleted()
	if len(deleted) != 2 || deleted[0].ID != 1 || deleted[1].ID != 2 {
		t.Fatalf("expected ledger [1 2], got %+v", deleted)
	}
}

func TestServiceStoreDuplicateSelected(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"), persistedItem(t, 2, "B"))

	clones, err := store.DuplicateSelected([]int64{2, 1})
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if len(clones) != 2 || store.Len() != 4 {
		t.Fatalf("expected 2 clones, got %d (store %d)", len(clones), store.Len())
	}
	if clones[0].Barcode == "A" || clones[1].Barcode == "B" {
		t.Fatalf("clones must receive fresh barcodes: %+v", clones)
	}
	for _, clone := range clones {
		if clone.ID >= 0 || !clone.IsNew || clone.IsModified {
			t.Fatalf("unexpected clone state %+v", clone)
		}
		if !clone.LineSum.Equal(dec(t, "105")) || clone.ProductTypeID != 5 {
			t.Fatalf("clone must preserve fields: %+v", clone)
		}
	}
}

func TestServiceStoreBulkCreateBlank(t *testing.T) {
	store := newTestServiceStore(t, 16)

	created, err := store.BulkCreate(3, nil)
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if len(created) != 3 || store.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", len(created))
	}
	ids := map[int64]struct{}{}
	barcodes := map[string]struct{}{}
	for _, item := range created {
		if !item.IsNew {
			t.Fatalf("expected new item %+v", item)
		}
		ids[item.ID] = struct{}{}
		barcodes[item.Barcode] = struct{}{}
	}
	if len(ids) != 3 || len(barcodes) != 3 {
		t.Fatalf("expected unique ids and barcodes, got %v %v", ids, barcodes)
	}
}

func TestServiceStoreBulkCreateClones(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"), persistedItem(t, 2, "B"))

	created, err := store.BulkCreate(2, []int64{1, 2})
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if len(created) != 4 || store.Len() != 6 {
		t.Fatalf("expected 4 clones, got %d", len(created))
	}
	if created[0].Barcode == created[2].Barcode {
		t.Fatalf("each repetition must draw fresh barcodes")
	}
}

func TestServiceStoreBulkCreateRejectsCount(t *testing.T) {
	store, err := NewServiceLineItemStore(ServiceLineItemStoreDeps{
		Barcodes:     &sequenceBarcodes{},
		MaxBulkCount: 4,
	}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for _, count := range []int{0, -1, 5} {
		if _, err := store.BulkCreate(count, nil); !errors.Is(err, ErrBulkCountInvalid) {
			t.Fatalf("count %d: expected ErrBulkCountInvalid, got %v", count, err)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("rejected bulk create must be a no-op")
	}
}

func TestServiceStoreRedrawsCollidingBarcodes(t *testing.T) {
	store, err := NewServiceLineItemStore(ServiceLineItemStoreDeps{
		Barcodes: &sequenceBarcodes{fixed: []string{"A", "A", "", "C"}},
	}, []domain.ServiceLineItem{{ID: 1, Barcode: "A"}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	item, err := store.AddItem()
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.Barcode != "C" {
		t.Fatalf("expected redraw to C, got %q", item.Barcode)
	}

	stuck, err := NewServiceLineItemStore(ServiceLineItemStoreDeps{
		Barcodes: constantBarcode("A"),
	}, []domain.ServiceLineItem{{ID: 1, Barcode: "A"}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := stuck.AddItem(); !errors.Is(err, ErrBarcodeUnavailable) {
		t.Fatalf("expected ErrBarcodeUnavailable, got %v", err)
	}
}

func TestServiceStoreApplyIndividualDiscount(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))
	fresh, _ := store.AddItem()

	if changed := store.ApplyIndividualDiscount(dec(t, "3")); changed != 2 {
		t.Fatalf("expected 2 changed items, got %d", changed)
	}
	item, _ := store.Item(1)
	assertDecimal(t, "unit price", item.UnitPrice, "9.50")
	assertDecimal(t, "line sum", item.LineSum, "95")
	if !item.IsModified {
		t.Fatalf("expected persisted item marked modified")
	}
	added, _ := store.Item(fresh.ID)
	if added.IsModified {
		t.Fatalf("new item must not be marked modified")
	}
	if changed := store.ApplyIndividualDiscount(dec(t, "3")); changed != 0 {
		t.Fatalf("reapplying the same discount must be a no-op, got %d", changed)
	}
	next, _ := store.AddItem()
	assertDecimal(t, "new items inherit the discount", next.IndividualDiscount, "3")
}

func TestServiceStoreApplyIndividualDiscountReplacesManualEdits(t *testing.T) {
	store := newTestServiceStore(t, 16, persistedItem(t, 1, "A"))
	if _, err := store.UpdateField(1, FieldIndividualDiscount, DecimalValue(dec(t, "4"))); err != nil {
		t.Fatalf("update discount: %v", err)
	}

	store.ApplyIndividualDiscount(dec(t, "1"))

	item, _ := store.Item(1)
	assertDecimal(t, "discount", item.IndividualDiscount, "1")
	assertDecimal(t, "unit price", item.UnitPrice, "11.50")
}

type constantBarcode string

func (c constantBarcode) Generate() string { return string(c) }
