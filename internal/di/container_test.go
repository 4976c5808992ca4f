package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cargodesk/api/internal/platform/config"
	"github.com/cargodesk/api/internal/repositories"
)

type stubReference struct {
	repositories.ReferenceRepository
}

type stubGoods struct {
	repositories.ShipmentGoodsRepository
}

type stubRegistry struct {
	reference repositories.ReferenceRepository
	goods     repositories.ShipmentGoodsRepository
	closed    bool
}

func (r *stubRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *stubRegistry) Reference() repositories.ReferenceRepository { return r.reference }

func (r *stubRegistry) ShipmentGoods() repositories.ShipmentGoodsRepository { return r.goods }

func (r *stubRegistry) Health() repositories.HealthRepository { return nil }

func testConfig() config.Config {
	return config.Config{
		Editor: config.EditorConfig{
			SessionIdleTimeout: time.Hour,
			BarcodePrefix:      "20",
			MaxBulkCount:       10,
		},
	}
}

func TestNewContainerBuildsEditor(t *testing.T) {
	reg := &stubRegistry{reference: stubReference{}, goods: stubGoods{}}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	container, err := NewContainer(context.Background(), testConfig(), reg, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if container.Services.Editor == nil {
		t.Fatalf("expected editor service")
	}
	code := container.Services.Barcodes.Generate()
	if !strings.HasPrefix(code, "20") || len(code) != 16 {
		t.Fatalf("unexpected barcode %q", code)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry to be closed")
	}
}

func TestNewContainerRejectsMissingDependencies(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil); err == nil {
		t.Fatalf("expected error without registry")
	}

	reg := &stubRegistry{goods: stubGoods{}}
	if _, err := NewContainer(context.Background(), testConfig(), reg); err == nil {
		t.Fatalf("expected error without reference repository")
	}

	cfg := testConfig()
	cfg.Editor.BarcodePrefix = "ABC"
	reg = &stubRegistry{reference: stubReference{}, goods: stubGoods{}}
	if _, err := NewContainer(context.Background(), cfg, reg); err == nil || !strings.Contains(err.Error(), "barcode") {
		t.Fatalf("expected barcode prefix error, got %v", err)
	}
}
