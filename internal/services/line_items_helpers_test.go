package services

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
)

type sequenceBarcodes struct {
	next  int
	fixed []string
}

func (g *sequenceBarcodes) Generate() string {
	if g.next < len(g.fixed) {
		code := g.fixed[g.next]
		g.next++
		return code
	}
	g.next++
	return fmt.Sprintf("20%016d", g.next)
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func decPtr(t *testing.T, value string) *decimal.Decimal {
	t.Helper()
	d := dec(t, value)
	return &d
}

func assertDecimal(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}

func scenarioTariffs() *TariffResolver {
	return NewTariffResolver([]domain.TariffRow{
		{BranchID: 16, ProductTypeID: 5, Rate: decimal.RequireFromString("12.50")},
		{BranchID: 20, ProductTypeID: 5, Rate: decimal.RequireFromString("9.00")},
		{BranchID: 16, ProductTypeID: 6, Rate: decimal.RequireFromString("4")},
	})
}

func newTestServiceStore(t *testing.T, destination int64, seed ...domain.ServiceLineItem) *ServiceLineItemStore {
	t.Helper()
	store, err := NewServiceLineItemStore(ServiceLineItemStoreDeps{
		Tariffs:             scenarioTariffs(),
		Barcodes:            &sequenceBarcodes{},
		DestinationBranchID: destination,
	}, seed)
	if err != nil {
		t.Fatalf("new service store: %v", err)
	}
	return store
}

// expectedLineSum restates the pricing invariant independently of the store helpers.
func expectedLineSum(item domain.ServiceLineItem) decimal.Decimal {
	price := item.UnitPrice
	if !item.IsPriceOverridden && item.TariffRate.IsPositive() {
		price = item.TariffRate.Sub(item.IndividualDiscount)
		if price.IsNegative() {
			price = decimal.Zero
		}
	}
	return item.Weight.Mul(price)
}
