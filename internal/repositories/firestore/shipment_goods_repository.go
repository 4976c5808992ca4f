package firestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cargodesk/api/internal/domain"
	pfirestore "github.com/cargodesk/api/internal/platform/firestore"
	"github.com/cargodesk/api/internal/repositories"
)

const (
	shipmentsCollection        = "shipments"
	shipmentServicesCollection = "services"
	shipmentProductsCollection = "products"
	countersCollection         = "counters"

	shipmentCounterID = "shipments"
	serviceCounterID  = "shipmentServices"
)

type shipmentDocument struct {
	DestinationBranchID int64     `firestore:"destinationBranchId"`
	SenderID            int64     `firestore:"senderId"`
	RecipientID         int64     `firestore:"recipientId"`
	PaymentMethod       string    `firestore:"paymentMethod"`
	MarkupPercent       string    `firestore:"markupPercent"`
	DiscountCustom      string    `firestore:"discountCustom"`
	DeclaredValue       string    `firestore:"declaredValue"`
	CommissionPercent   string    `firestore:"commissionPercent"`
	CommissionAmount    string    `firestore:"commissionAmount"`
	DiscountID          *int64    `firestore:"discountId"`
	CashBackID          *int64    `firestore:"cashBackId"`
	CashBackTarget      string    `firestore:"cashBackTarget"`
	Amount              string    `firestore:"amount"`
	CreatedAt           time.Time `firestore:"createdAt"`
	UpdatedAt           time.Time `firestore:"updatedAt"`
}

type serviceDocument struct {
	ID                 int64     `firestore:"id"`
	Position           int       `firestore:"position"`
	NomenclatureID     int64     `firestore:"nomenclatureId"`
	ProductTypeID      int64     `firestore:"productTypeId"`
	Barcode            string    `firestore:"barcode"`
	BagNumber          string    `firestore:"bagNumber"`
	Quantity           int       `firestore:"quantity"`
	Weight             string    `firestore:"weight"`
	TariffRate         string    `firestore:"tariffRate"`
	IndividualDiscount string    `firestore:"individualDiscount"`
	IsPriceOverridden  bool      `firestore:"isPriceOverridden"`
	UnitPrice          string    `firestore:"unitPrice"`
	LineSum            string    `firestore:"lineSum"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

type productDocument struct {
	ID        int64     `firestore:"id"`
	Position  int       `firestore:"position"`
	Name      string    `firestore:"name"`
	UnitPrice string    `firestore:"unitPrice"`
	Quantity  int       `firestore:"quantity"`
	LineSum   string    `firestore:"lineSum"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// ShipmentGoodsRepository persists shipment goods records as a header document with
// services and products subcollections.
type ShipmentGoodsRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.ShipmentGoodsRepository = (*ShipmentGoodsRepository)(nil)

// ShipmentGoodsOption customises the repository.
type ShipmentGoodsOption func(*ShipmentGoodsRepository)

// WithGoodsClock overrides the timestamp source.
func WithGoodsClock(clock func() time.Time) ShipmentGoodsOption {
	return func(r *ShipmentGoodsRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewShipmentGoodsRepository constructs a Firestore-backed goods repository.
func NewShipmentGoodsRepository(provider *pfirestore.Provider, opts ...ShipmentGoodsOption) (*ShipmentGoodsRepository, error) {
	if provider == nil {
		return nil, errors.New("shipment goods repository requires firestore provider")
	}
	repo := &ShipmentGoodsRepository{provider: provider, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Load reads the shipment header with its services and products.
func (r *ShipmentGoodsRepository) Load(ctx context.Context, shipmentID string) (domain.GoodsRecord, error) {
	id := strings.TrimSpace(shipmentID)
	if id == "" {
		return domain.GoodsRecord{}, pfirestore.NewNotFound("shipments.load", "shipment id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.GoodsRecord{}, err
	}
	headerRef := client.Collection(shipmentsCollection).Doc(id)

	snap, err := headerRef.Get(ctx)
	if err != nil {
		return domain.GoodsRecord{}, pfirestore.WrapError("shipments.load", err)
	}
	var header shipmentDocument
	if err := snap.DataTo(&header); err != nil {
		return domain.GoodsRecord{}, fmt.Errorf("shipments.load decode %s: %w", id, err)
	}
	draft, err := decodeShipment(id, header)
	if err != nil {
		return domain.GoodsRecord{}, err
	}

	serviceDocs, err := pfirestore.DecodeAll(
		"shipments.services.list",
		headerRef.Collection(shipmentServicesCollection).OrderBy("position", firestore.Asc).Documents(ctx),
		pfirestore.StructDecoder[serviceDocument](),
	)
	if err != nil {
		return domain.GoodsRecord{}, err
	}
	services := make([]domain.ServiceLineItem, 0, len(serviceDocs))
	for _, doc := range serviceDocs {
		item, err := decodeService(doc.ID, doc.Data)
		if err != nil {
			return domain.GoodsRecord{}, err
		}
		services = append(services, item)
	}

	productDocs, err := pfirestore.DecodeAll(
		"shipments.products.list",
		headerRef.Collection(shipmentProductsCollection).OrderBy("position", firestore.Asc).Documents(ctx),
		pfirestore.StructDecoder[productDocument](),
	)
	if err != nil {
		return domain.GoodsRecord{}, err
	}
	products := make([]domain.ProductLineItem, 0, len(productDocs))
	for _, doc := range productDocs {
		price, err := parseDecimal(shipmentProductsCollection, doc.ID, "unitPrice", doc.Data.UnitPrice)
		if err != nil {
			return domain.GoodsRecord{}, err
		}
		lineSum, err := parseDecimal(shipmentProductsCollection, doc.ID, "lineSum", doc.Data.LineSum)
		if err != nil {
			return domain.GoodsRecord{}, err
		}
		products = append(products, domain.ProductLineItem{
			ID:        doc.Data.ID,
			Name:      doc.Data.Name,
			UnitPrice: price,
			Quantity:  doc.Data.Quantity,
			LineSum:   lineSum,
		})
	}

	return domain.GoodsRecord{
		ShipmentID: id,
		Draft:      draft,
		Services:   services,
		Products:   products,
		UpdatedAt:  header.UpdatedAt.UTC(),
	}, nil
}

// ApplySubmission writes the submission in a single transaction. New services receive ids from
// the shipment services counter; modified services are overwritten and deleted ones removed.
// Products are replaced wholesale by the submitted selection.
func (r *ShipmentGoodsRepository) ApplySubmission(ctx context.Context, submission domain.GoodsSubmission) (domain.SubmissionReceipt, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.SubmissionReceipt{}, err
	}
	now := r.clock().UTC()
	shipments := client.Collection(shipmentsCollection)
	counters := client.Collection(countersCollection)

	var receipt domain.SubmissionReceipt
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		receipt = domain.SubmissionReceipt{Amount: submission.Amount, SubmittedAt: now}

		// Reads first; Firestore rejects reads after the first write in a transaction.
		shipmentID := strings.TrimSpace(submission.ShipmentID)
		createdAt := now
		var shipmentCounter *counterDocument
		if shipmentID == "" {
			counter, err := readCounter(tx, counters.Doc(shipmentCounterID))
			if err != nil {
				return err
			}
			counter.CurrentValue++
			shipmentCounter = &counter
			shipmentID = formatShipmentID(counter.CurrentValue)
		} else {
			snap, err := tx.Get(shipments.Doc(shipmentID))
			if status.Code(err) == codes.NotFound {
				return repositories.NewGoodsWriteError(repositories.GoodsWriteShipmentMissing,
					fmt.Sprintf("shipment %s no longer exists", shipmentID), err)
			}
			if err != nil {
				return err
			}
			var existing shipmentDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("shipments.apply decode %s: %w", shipmentID, err)
			}
			if !existing.CreatedAt.IsZero() {
				createdAt = existing.CreatedAt
			}
		}
		headerRef := shipments.Doc(shipmentID)
		servicesRef := headerRef.Collection(shipmentServicesCollection)
		productsRef := headerRef.Collection(shipmentProductsCollection)

		stored := map[string]serviceDocument{}
		storedProducts := map[string]struct{}{}
		if shipmentCounter == nil {
			docs, err := tx.Documents(servicesRef).GetAll()
			if err != nil {
				return err
			}
			for _, snap := range docs {
				var doc serviceDocument
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("shipments.services decode %s: %w", snap.Ref.ID, err)
				}
				stored[snap.Ref.ID] = doc
			}
			productSnaps, err := tx.Documents(productsRef).GetAll()
			if err != nil {
				return err
			}
			for _, snap := range productSnaps {
				storedProducts[snap.Ref.ID] = struct{}{}
			}
		}

		deleting := make(map[string]struct{}, len(submission.DeletedServices))
		for _, svc := range submission.DeletedServices {
			key := serviceDocID(svc.ID)
			if _, ok := stored[key]; !ok || svc.ID <= 0 {
				return repositories.NewGoodsWriteError(repositories.GoodsWriteServiceMissing,
					fmt.Sprintf("service %d (barcode %s) was already removed", svc.ID, svc.Barcode), nil)
			}
			deleting[key] = struct{}{}
		}

		takenBarcodes := make(map[string]struct{}, len(stored))
		for key, doc := range stored {
			if _, gone := deleting[key]; gone {
				continue
			}
			takenBarcodes[doc.Barcode] = struct{}{}
		}

		newCount := 0
		for _, svc := range submission.Services {
			if isNewService(svc) {
				newCount++
				if _, taken := takenBarcodes[svc.Barcode]; taken {
					return repositories.NewGoodsWriteError(repositories.GoodsWriteBarcodeTaken,
						fmt.Sprintf("barcode %s is already used on shipment %s", svc.Barcode, shipmentID), nil)
				}
				takenBarcodes[svc.Barcode] = struct{}{}
				continue
			}
			if _, ok := stored[serviceDocID(svc.ID)]; !ok {
				return repositories.NewGoodsWriteError(repositories.GoodsWriteServiceMissing,
					fmt.Sprintf("service %d (barcode %s) no longer exists", svc.ID, svc.Barcode), nil)
			}
		}

		var serviceCounter counterDocument
		if newCount > 0 {
			serviceCounter, err = readCounter(tx, counters.Doc(serviceCounterID))
			if err != nil {
				return err
			}
		}

		// Writes.
		if shipmentCounter != nil {
			shipmentCounter.UpdatedAt = now
			if err := tx.Set(counters.Doc(shipmentCounterID), *shipmentCounter); err != nil {
				return err
			}
		}
		if err := tx.Set(headerRef, encodeShipment(submission, createdAt, now)); err != nil {
			return err
		}

		for position, svc := range submission.Services {
			switch {
			case isNewService(svc):
				serviceCounter.CurrentValue++
				svc.ID = serviceCounter.CurrentValue
				receipt.Created++
			case svc.IsModified:
				receipt.Updated++
			default:
				if stored[serviceDocID(svc.ID)].Position == position {
					continue
				}
			}
			if err := tx.Set(servicesRef.Doc(serviceDocID(svc.ID)), encodeService(svc, position, now)); err != nil {
				return err
			}
		}
		if newCount > 0 {
			serviceCounter.UpdatedAt = now
			if err := tx.Set(counters.Doc(serviceCounterID), serviceCounter); err != nil {
				return err
			}
		}
		for key := range deleting {
			if err := tx.Delete(servicesRef.Doc(key)); err != nil {
				return err
			}
			receipt.Deleted++
		}

		kept := make(map[string]struct{}, len(submission.Products))
		for position, product := range submission.Products {
			key := strconv.FormatInt(product.ID, 10)
			kept[key] = struct{}{}
			if err := tx.Set(productsRef.Doc(key), productDocument{
				ID:        product.ID,
				Position:  position,
				Name:      product.Name,
				UnitPrice: product.UnitPrice.String(),
				Quantity:  product.Quantity,
				LineSum:   product.LineSum.String(),
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		for key := range storedProducts {
			if _, ok := kept[key]; ok {
				continue
			}
			if err := tx.Delete(productsRef.Doc(key)); err != nil {
				return err
			}
		}

		receipt.ShipmentID = shipmentID
		return nil
	})
	if err != nil {
		var goodsErr *repositories.GoodsWriteError
		if errors.As(err, &goodsErr) {
			goodsErr.Op = "shipments.apply"
			return domain.SubmissionReceipt{}, goodsErr
		}
		return domain.SubmissionReceipt{}, pfirestore.WrapError("shipments.apply", err)
	}
	return receipt, nil
}

func readCounter(tx *firestore.Transaction, ref *firestore.DocumentRef) (counterDocument, error) {
	snap, err := tx.Get(ref)
	switch status.Code(err) {
	case codes.NotFound:
		return counterDocument{}, nil
	case codes.OK:
	default:
		return counterDocument{}, err
	}
	var doc counterDocument
	if err := snap.DataTo(&doc); err != nil {
		return counterDocument{}, fmt.Errorf("firestore counters decode %s: %w", ref.ID, err)
	}
	return doc, nil
}

func isNewService(svc domain.SubmittedService) bool {
	return svc.IsNew || svc.ID <= 0
}

func formatShipmentID(n int64) string {
	return fmt.Sprintf("SH%08d", n)
}

func serviceDocID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func optionalID(id *int64) *int64 {
	if id == nil || *id == 0 {
		return nil
	}
	v := *id
	return &v
}

func encodeShipment(s domain.GoodsSubmission, createdAt, now time.Time) shipmentDocument {
	return shipmentDocument{
		DestinationBranchID: s.DestinationBranchID,
		SenderID:            s.SenderID,
		RecipientID:         s.RecipientID,
		PaymentMethod:       s.PaymentMethod,
		MarkupPercent:       s.MarkupPercent.String(),
		DiscountCustom:      s.DiscountCustomPercent.String(),
		DeclaredValue:       s.DeclaredValue.String(),
		CommissionPercent:   s.CommissionPercent.String(),
		CommissionAmount:    s.CommissionAmount.String(),
		DiscountID:          optionalID(s.DiscountID),
		CashBackID:          optionalID(s.CashBackID),
		CashBackTarget:      s.CashBackTarget,
		Amount:              s.Amount.String(),
		CreatedAt:           createdAt,
		UpdatedAt:           now,
	}
}

func encodeService(svc domain.SubmittedService, position int, now time.Time) serviceDocument {
	return serviceDocument{
		ID:                 svc.ID,
		Position:           position,
		NomenclatureID:     svc.NomenclatureID,
		ProductTypeID:      svc.ProductTypeID,
		Barcode:            svc.Barcode,
		BagNumber:          svc.BagNumber,
		Quantity:           svc.Quantity,
		Weight:             svc.Weight.String(),
		TariffRate:         svc.TariffRate.String(),
		IndividualDiscount: svc.IndividualDiscount.String(),
		IsPriceOverridden:  svc.IsPriceOverridden,
		UnitPrice:          svc.UnitPrice.String(),
		LineSum:            svc.LineSum.String(),
		UpdatedAt:          now,
	}
}

type decimalField struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func decodeShipment(id string, doc shipmentDocument) (domain.OrderDraft, error) {
	draft := domain.OrderDraft{
		ShipmentID:          id,
		DestinationBranchID: doc.DestinationBranchID,
		SenderID:            doc.SenderID,
		RecipientID:         doc.RecipientID,
		PaymentMethod:       doc.PaymentMethod,
	}
	fields := []decimalField{
		{"markupPercent", doc.MarkupPercent, &draft.MarkupPercent},
		{"discountCustom", doc.DiscountCustom, &draft.DiscountCustomPercent},
		{"declaredValue", doc.DeclaredValue, &draft.DeclaredValue},
		{"commissionPercent", doc.CommissionPercent, &draft.CommissionPercent},
		{"commissionAmount", doc.CommissionAmount, &draft.CommissionAmount},
	}
	for _, f := range fields {
		value, err := parseDecimal(shipmentsCollection, id, f.name, f.raw)
		if err != nil {
			return domain.OrderDraft{}, err
		}
		*f.dst = value
	}
	if doc.DiscountID != nil {
		draft.SelectedDiscountID = *doc.DiscountID
	}
	if doc.CashBackID != nil {
		draft.SelectedCashbackID = *doc.CashBackID
		draft.CashbackTargetRole = domain.CashbackTargetRole(doc.CashBackTarget)
	}
	return draft, nil
}

func decodeService(docID string, doc serviceDocument) (domain.ServiceLineItem, error) {
	item := domain.ServiceLineItem{
		ID:                doc.ID,
		NomenclatureID:    doc.NomenclatureID,
		ProductTypeID:     doc.ProductTypeID,
		Barcode:           doc.Barcode,
		BagNumber:         doc.BagNumber,
		Quantity:          doc.Quantity,
		IsPriceOverridden: doc.IsPriceOverridden,
	}
	if item.ID == 0 {
		parsed, err := strconv.ParseInt(docID, 10, 64)
		if err != nil {
			return domain.ServiceLineItem{}, fmt.Errorf("shipments.services decode %s: invalid id: %w", docID, err)
		}
		item.ID = parsed
	}
	if strings.TrimSpace(doc.Weight) != "" {
		weight, err := parseDecimal(shipmentServicesCollection, docID, "weight", doc.Weight)
		if err != nil {
			return domain.ServiceLineItem{}, err
		}
		item.Weight = &weight
	}
	var err error
	if item.TariffRate, err = parseDecimal(shipmentServicesCollection, docID, "tariffRate", doc.TariffRate); err != nil {
		return domain.ServiceLineItem{}, err
	}
	if item.IndividualDiscount, err = parseDecimal(shipmentServicesCollection, docID, "individualDiscount", doc.IndividualDiscount); err != nil {
		return domain.ServiceLineItem{}, err
	}
	if item.UnitPrice, err = parseDecimal(shipmentServicesCollection, docID, "unitPrice", doc.UnitPrice); err != nil {
		return domain.ServiceLineItem{}, err
	}
	if item.LineSum, err = parseDecimal(shipmentServicesCollection, docID, "lineSum", doc.LineSum); err != nil {
		return domain.ServiceLineItem{}, err
	}
	return item, nil
}
