//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
	pconfig "github.com/cargodesk/api/internal/platform/config"
	pfirestore "github.com/cargodesk/api/internal/platform/firestore"
	"github.com/cargodesk/api/internal/repositories"
)

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "goods-test-" + time.Now().UTC().Format("150405.000000"),
		EmulatorHost: host,
	})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func mustDecimal(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestShipmentGoodsRepositoryRoundTrip(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewShipmentGoodsRepository(provider)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	discountID := int64(7)
	submission := domain.GoodsSubmission{
		DestinationBranchID: 3,
		SenderID:            7,
		RecipientID:         8,
		PaymentMethod:       "cash",
		MarkupPercent:       decimal.NewFromInt(10),
		DeclaredValue:       decimal.NewFromInt(100),
		CommissionPercent:   decimal.NewFromInt(2),
		CommissionAmount:    decimal.NewFromInt(2),
		DiscountID:          &discountID,
		Amount:              mustDecimal("33.00"),
		Services: []domain.SubmittedService{
			{ID: -1, ProductTypeID: 5, Barcode: "200000000000000001", Quantity: 1, Weight: mustDecimal("2.000"), TariffRate: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(10), LineSum: decimal.NewFromInt(20), IsNew: true},
			{ID: -2, ProductTypeID: 5, Barcode: "200000000000000002", Quantity: 1, Weight: mustDecimal("1.000"), TariffRate: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(10), LineSum: decimal.NewFromInt(10), IsNew: true},
		},
		Products: []domain.SubmittedProduct{
			{ID: 11, Name: "Box", UnitPrice: decimal.NewFromInt(3), Quantity: 1, LineSum: decimal.NewFromInt(3), IsNew: true},
		},
	}
	receipt, err := repo.ApplySubmission(ctx, submission)
	if err != nil {
		t.Fatalf("apply create: %v", err)
	}
	if receipt.ShipmentID == "" || receipt.Created != 2 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	record, err := repo.Load(ctx, receipt.ShipmentID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(record.Services) != 2 || len(record.Products) != 1 {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Services[0].ID <= 0 || record.Services[0].Barcode != "200000000000000001" {
		t.Fatalf("expected server id in submitted order, got %+v", record.Services[0])
	}
	if record.Draft.SelectedDiscountID != 7 {
		t.Fatalf("expected discount id 7, got %d", record.Draft.SelectedDiscountID)
	}

	first := record.Services[0]
	update := domain.GoodsSubmission{
		ShipmentID:          receipt.ShipmentID,
		DestinationBranchID: 3,
		SenderID:            7,
		RecipientID:         8,
		PaymentMethod:       "card",
		Amount:              decimal.NewFromInt(30),
		Services: []domain.SubmittedService{
			{ID: first.ID, ProductTypeID: 5, Barcode: first.Barcode, Quantity: 1, Weight: mustDecimal("3.000"), TariffRate: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(10), LineSum: decimal.NewFromInt(30), IsModified: true},
		},
		DeletedServices: []domain.SubmittedService{
			{ID: record.Services[1].ID, Barcode: record.Services[1].Barcode},
		},
	}
	receipt, err = repo.ApplySubmission(ctx, update)
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if receipt.Updated != 1 || receipt.Deleted != 1 || receipt.Created != 0 {
		t.Fatalf("unexpected update receipt %+v", receipt)
	}

	record, err = repo.Load(ctx, receipt.ShipmentID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(record.Services) != 1 || !record.Services[0].Weight.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected single updated service, got %+v", record.Services)
	}
	if len(record.Products) != 0 {
		t.Fatalf("expected products replaced by empty selection, got %+v", record.Products)
	}

	_, err = repo.ApplySubmission(ctx, update)
	var goodsErr *repositories.GoodsWriteError
	if !errors.As(err, &goodsErr) || goodsErr.Code != repositories.GoodsWriteServiceMissing {
		t.Fatalf("expected service missing error on replayed delete, got %v", err)
	}
}

func TestShipmentGoodsRepositoryMissingShipment(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewShipmentGoodsRepository(provider)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx := context.Background()

	_, err = repo.Load(ctx, "SH-missing")
	if !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = repo.ApplySubmission(ctx, domain.GoodsSubmission{ShipmentID: "SH-missing"})
	var goodsErr *repositories.GoodsWriteError
	if !errors.As(err, &goodsErr) || goodsErr.Code != repositories.GoodsWriteShipmentMissing {
		t.Fatalf("expected shipment missing error, got %v", err)
	}
}
