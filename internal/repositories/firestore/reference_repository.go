package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
	pfirestore "github.com/cargodesk/api/internal/platform/firestore"
	"github.com/cargodesk/api/internal/repositories"
)

const (
	tariffsCollection        = "tariffs"
	productTypesCollection   = "productTypes"
	nomenclaturesCollection  = "nomenclatures"
	branchProductsCollection = "branchProducts"
	counterpartiesCollection = "counterparties"
	cashbackGrantsCollection = "cashbackGrants"
)

type tariffDocument struct {
	BranchID      int64  `firestore:"branchId"`
	ProductTypeID int64  `firestore:"productTypeId"`
	Rate          string `firestore:"rate"`
}

type namedDocument struct {
	ID   int64  `firestore:"id"`
	Name string `firestore:"name"`
}

type branchProductDocument struct {
	BranchID  int64  `firestore:"branchId"`
	ProductID int64  `firestore:"productId"`
	Name      string `firestore:"name"`
	Price     string `firestore:"price"`
	Editable  bool   `firestore:"editable"`
}

type counterpartyDocument struct {
	ID       int64  `firestore:"id"`
	Name     string `firestore:"name"`
	Discount string `firestore:"discount"`
}

type cashbackGrantDocument struct {
	ID             int64  `firestore:"id"`
	CounterpartyID int64  `firestore:"counterpartyId"`
	Amount         string `firestore:"amount"`
	Label          string `firestore:"label"`
}

// ReferenceRepository reads tariff, catalog and counterparty reference data from Firestore.
type ReferenceRepository struct {
	tariffs        *pfirestore.Collection[tariffDocument]
	productTypes   *pfirestore.Collection[namedDocument]
	nomenclatures  *pfirestore.Collection[namedDocument]
	branchProducts *pfirestore.Collection[branchProductDocument]
	counterparties *pfirestore.Collection[counterpartyDocument]
	cashbacks      *pfirestore.Collection[cashbackGrantDocument]
}

var _ repositories.ReferenceRepository = (*ReferenceRepository)(nil)

// NewReferenceRepository constructs a Firestore-backed reference repository.
func NewReferenceRepository(provider *pfirestore.Provider) (*ReferenceRepository, error) {
	if provider == nil {
		return nil, errors.New("reference repository requires firestore provider")
	}
	return &ReferenceRepository{
		tariffs:        pfirestore.NewCollection[tariffDocument](provider, tariffsCollection, nil),
		productTypes:   pfirestore.NewCollection[namedDocument](provider, productTypesCollection, nil),
		nomenclatures:  pfirestore.NewCollection[namedDocument](provider, nomenclaturesCollection, nil),
		branchProducts: pfirestore.NewCollection[branchProductDocument](provider, branchProductsCollection, nil),
		counterparties: pfirestore.NewCollection[counterpartyDocument](provider, counterpartiesCollection, nil),
		cashbacks:      pfirestore.NewCollection[cashbackGrantDocument](provider, cashbackGrantsCollection, nil),
	}, nil
}

func (r *ReferenceRepository) ListTariffs(ctx context.Context) ([]domain.TariffRow, error) {
	docs, err := r.tariffs.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.TariffRow, 0, len(docs))
	for _, doc := range docs {
		rate, err := parseDecimal(tariffsCollection, doc.ID, "rate", doc.Data.Rate)
		if err != nil {
			return nil, err
		}
		rows = append(rows, domain.TariffRow{
			BranchID:      doc.Data.BranchID,
			ProductTypeID: doc.Data.ProductTypeID,
			Rate:          rate,
		})
	}
	return rows, nil
}

func (r *ReferenceRepository) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	docs, err := r.productTypes.List(ctx, orderByName)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductType, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.ProductType{ID: doc.Data.ID, Name: strings.TrimSpace(doc.Data.Name)})
	}
	return out, nil
}

func (r *ReferenceRepository) ListNomenclatures(ctx context.Context) ([]domain.Nomenclature, error) {
	docs, err := r.nomenclatures.List(ctx, orderByName)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Nomenclature, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Nomenclature{ID: doc.Data.ID, Name: strings.TrimSpace(doc.Data.Name)})
	}
	return out, nil
}

func (r *ReferenceRepository) ListBranchCatalog(ctx context.Context, branchID int64) ([]domain.CatalogEntry, error) {
	if branchID == 0 {
		return nil, nil
	}
	docs, err := r.branchProducts.List(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("branchId", "==", branchID).OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CatalogEntry, 0, len(docs))
	for _, doc := range docs {
		price, err := parseDecimal(branchProductsCollection, doc.ID, "price", doc.Data.Price)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.CatalogEntry{
			ID:       doc.Data.ProductID,
			Name:     strings.TrimSpace(doc.Data.Name),
			Price:    price,
			Editable: doc.Data.Editable,
		})
	}
	return out, nil
}

func (r *ReferenceRepository) ListDiscountCounterparties(ctx context.Context) ([]domain.DiscountCounterparty, error) {
	docs, err := r.counterparties.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DiscountCounterparty, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Data.Discount) == "" {
			continue
		}
		discount, err := parseDecimal(counterpartiesCollection, doc.ID, "discount", doc.Data.Discount)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.DiscountCounterparty{
			ID:       doc.Data.ID,
			Name:     strings.TrimSpace(doc.Data.Name),
			Discount: discount,
		})
	}
	return out, nil
}

func (r *ReferenceRepository) ListCashbackGrants(ctx context.Context) ([]domain.CashbackGrant, error) {
	docs, err := r.cashbacks.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CashbackGrant, 0, len(docs))
	for _, doc := range docs {
		amount, err := parseDecimal(cashbackGrantsCollection, doc.ID, "amount", doc.Data.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.CashbackGrant{
			ID:             doc.Data.ID,
			CounterpartyID: doc.Data.CounterpartyID,
			Amount:         amount,
			Label:          strings.TrimSpace(doc.Data.Label),
		})
	}
	return out, nil
}

func orderByName(q firestore.Query) firestore.Query {
	return q.OrderBy("name", firestore.Asc)
}

func parseDecimal(collection, docID, field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s.decode %s: %s %q is not a decimal: %w", collection, docID, field, raw, err)
	}
	return value, nil
}
