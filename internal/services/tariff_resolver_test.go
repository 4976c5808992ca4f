package services

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
)

func TestTariffResolverResolvesExactPair(t *testing.T) {
	resolver := scenarioTariffs()

	assertDecimal(t, "16/5", resolver.Resolve(16, 5), "12.50")
	assertDecimal(t, "20/5", resolver.Resolve(20, 5), "9")
	assertDecimal(t, "miss", resolver.Resolve(20, 6), "0")

	if _, ok := resolver.Lookup(0, 5); ok {
		t.Fatalf("unset destination must miss")
	}
	if _, ok := resolver.Lookup(16, 0); ok {
		t.Fatalf("unset product type must miss")
	}
	if resolver.Len() != 3 {
		t.Fatalf("expected 3 pairs, got %d", resolver.Len())
	}
}

func TestTariffResolverZeroRateIsMiss(t *testing.T) {
	resolver := NewTariffResolver([]domain.TariffRow{
		{BranchID: 1, ProductTypeID: 1, Rate: decimal.Zero},
		{BranchID: 1, ProductTypeID: 2, Rate: decimal.NewFromInt(3)},
		{BranchID: 1, ProductTypeID: 2, Rate: decimal.NewFromInt(99)},
	})

	if _, ok := resolver.Lookup(1, 1); ok {
		t.Fatalf("zero rate must be reported as unknown")
	}
	assertDecimal(t, "first duplicate wins", resolver.Resolve(1, 2), "3")

	var nilResolver *TariffResolver
	if _, ok := nilResolver.Lookup(1, 2); ok || nilResolver.Len() != 0 {
		t.Fatalf("nil resolver must miss")
	}
}
