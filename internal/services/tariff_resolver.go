package services

import (
	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
)

type tariffKey struct {
	branchID      int64
	productTypeID int64
}

// TariffResolver answers per-kilogram rate lookups over a loaded tariff table.
// A zero result means the tariff is unknown, never a free rate.
type TariffResolver struct {
	rates map[tariffKey]decimal.Decimal
}

// NewTariffResolver indexes the supplied rows. When the table carries duplicates for one
// (branch, product type) pair the first row wins.
func NewTariffResolver(rows []domain.TariffRow) *TariffResolver {
	rates := make(map[tariffKey]decimal.Decimal, len(rows))
	for _, row := range rows {
		key := tariffKey{branchID: row.BranchID, productTypeID: row.ProductTypeID}
		if _, exists := rates[key]; exists {
			continue
		}
		rates[key] = row.Rate
	}
	return &TariffResolver{rates: rates}
}

// Resolve returns the rate for the destination and product type, or zero on a miss.
func (r *TariffResolver) Resolve(destinationBranchID, productTypeID int64) decimal.Decimal {
	rate, _ := r.Lookup(destinationBranchID, productTypeID)
	return rate
}

// Lookup reports whether a usable (non-zero) rate exists for the pair.
func (r *TariffResolver) Lookup(destinationBranchID, productTypeID int64) (decimal.Decimal, bool) {
	if r == nil || destinationBranchID == 0 || productTypeID == 0 {
		return decimal.Zero, false
	}
	rate, ok := r.rates[tariffKey{branchID: destinationBranchID, productTypeID: productTypeID}]
	if !ok || rate.IsZero() {
		return decimal.Zero, false
	}
	return rate, true
}

// Len returns the number of indexed tariff pairs.
func (r *TariffResolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rates)
}
