package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/cargodesk/api/internal/domain"
)

// ProductLineItemStore owns the optional add-on products offered by the destination branch.
type ProductLineItemStore struct {
	destinationID int64
	catalog       []domain.CatalogEntry
	items         []domain.ProductLineItem
}

// NewProductLineItemStore seeds the store with persisted product lines and the destination catalog.
func NewProductLineItemStore(destinationBranchID int64, catalog []domain.CatalogEntry, seed []domain.ProductLineItem) *ProductLineItemStore {
	store := &ProductLineItemStore{
		destinationID: destinationBranchID,
		items:         append([]domain.ProductLineItem(nil), seed...),
	}
	store.merge(destinationBranchID, catalog)
	return store
}

// DestinationBranchID returns the branch whose catalog the store currently follows.
func (s *ProductLineItemStore) DestinationBranchID() int64 {
	return s.destinationID
}

// Items returns all product lines, selected or not.
func (s *ProductLineItemStore) Items() []domain.ProductLineItem {
	return append([]domain.ProductLineItem(nil), s.items...)
}

// Selected returns the product lines with a positive quantity.
func (s *ProductLineItemStore) Selected() []domain.ProductLineItem {
	out := make([]domain.ProductLineItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Quantity > 0 {
			out = append(out, item)
		}
	}
	return out
}

// Sum returns the line sum of selected products.
func (s *ProductLineItemStore) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		if item.Quantity > 0 {
			total = total.Add(item.LineSum)
		}
	}
	return total
}

// SetQuantity updates the quantity of a product line; zero deselects it.
func (s *ProductLineItemStore) SetQuantity(id int64, qty int) (domain.ProductLineItem, error) {
	if qty < 0 {
		return domain.ProductLineItem{}, fmt.Errorf("%w: quantity must not be negative", ErrInvalidProductValue)
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.ProductLineItem{}, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	item := &s.items[idx]
	item.Quantity = qty
	s.touch(item)
	return *item, nil
}

// SetPrice updates the unit price of a product line whose catalog entry is editable.
func (s *ProductLineItemStore) SetPrice(id int64, price decimal.Decimal) (domain.ProductLineItem, error) {
	if price.IsNegative() {
		return domain.ProductLineItem{}, fmt.Errorf("%w: price must not be negative", ErrInvalidProductValue)
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.ProductLineItem{}, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	item := &s.items[idx]
	if !item.Editable {
		return domain.ProductLineItem{}, fmt.Errorf("%w: product %d", ErrProductPriceLocked, id)
	}
	item.UnitPrice = price
	s.touch(item)
	return *item, nil
}

// IsProductAvailableForDestination reports whether the destination catalog offers the item,
// matching by id or by name. Names compare after width normalisation and case folding.
// An empty catalog allows everything.
func (s *ProductLineItemStore) IsProductAvailableForDestination(item domain.ProductLineItem) bool {
	if len(s.catalog) == 0 {
		return true
	}
	name := foldProductName(item.Name)
	for _, entry := range s.catalog {
		if entry.ID == item.ID {
			return true
		}
		if name != "" && foldProductName(entry.Name) == name {
			return true
		}
	}
	return false
}

// Unavailable returns the ids of product lines the current catalog no longer offers.
func (s *ProductLineItemStore) Unavailable() []int64 {
	var out []int64
	for _, item := range s.items {
		if !s.IsProductAvailableForDestination(item) {
			out = append(out, item.ID)
		}
	}
	return out
}

// Reseed switches the store to a new destination catalog. Selected and persisted lines are
// kept by id with their prices; unseen catalog entries are added unselected. Kept lines the
// new catalog does not offer are deselected; Reseed returns how many.
func (s *ProductLineItemStore) Reseed(destinationBranchID int64, catalog []domain.CatalogEntry) int {
	s.merge(destinationBranchID, catalog)
	deselected := 0
	for i := range s.items {
		item := &s.items[i]
		if item.Quantity == 0 || s.IsProductAvailableForDestination(*item) {
			continue
		}
		item.Quantity = 0
		s.touch(item)
		deselected++
	}
	return deselected
}

func (s *ProductLineItemStore) merge(destinationBranchID int64, catalog []domain.CatalogEntry) {
	s.destinationID = destinationBranchID
	s.catalog = append([]domain.CatalogEntry(nil), catalog...)

	kept := make(map[int64]domain.ProductLineItem, len(s.items))
	order := make([]int64, 0, len(s.items))
	for _, item := range s.items {
		if item.Quantity > 0 || !item.IsNew {
			if _, dup := kept[item.ID]; !dup {
				order = append(order, item.ID)
			}
			kept[item.ID] = item
		}
	}

	next := make([]domain.ProductLineItem, 0, len(catalog)+len(kept))
	placed := make(map[int64]struct{}, len(catalog))
	for _, entry := range catalog {
		if _, dup := placed[entry.ID]; dup {
			continue
		}
		placed[entry.ID] = struct{}{}
		if existing, ok := kept[entry.ID]; ok {
			existing.Editable = entry.Editable
			if strings.TrimSpace(existing.Name) == "" {
				existing.Name = entry.Name
			}
			next = append(next, existing)
			continue
		}
		next = append(next, domain.ProductLineItem{
			ID:        entry.ID,
			Name:      entry.Name,
			UnitPrice: entry.Price,
			Editable:  entry.Editable,
			IsNew:     true,
		})
	}
	for _, id := range order {
		if _, ok := placed[id]; ok {
			continue
		}
		next = append(next, kept[id])
	}
	s.items = next
}

func (s *ProductLineItemStore) touch(item *domain.ProductLineItem) {
	item.LineSum = decimal.NewFromInt(int64(item.Quantity)).Mul(item.UnitPrice)
	if !item.IsNew {
		item.IsModified = true
	}
}

func (s *ProductLineItemStore) indexOf(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func foldProductName(name string) string {
	name = strings.TrimSpace(norm.NFKC.String(name))
	if name == "" {
		return ""
	}
	return cases.Fold().String(name)
}
