package repositories

import (
	"context"

	domain "github.com/cargodesk/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Reference() ReferenceRepository
	ShipmentGoods() ShipmentGoodsRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ReferenceRepository serves the read-only reference tables the goods editor prices against.
type ReferenceRepository interface {
	ListTariffs(ctx context.Context) ([]domain.TariffRow, error)
	ListProductTypes(ctx context.Context) ([]domain.ProductType, error)
	ListNomenclatures(ctx context.Context) ([]domain.Nomenclature, error)
	// ListBranchCatalog returns the products offered at the branch. An unknown branch yields an empty list.
	ListBranchCatalog(ctx context.Context, branchID int64) ([]domain.CatalogEntry, error)
	ListDiscountCounterparties(ctx context.Context) ([]domain.DiscountCounterparty, error)
	ListCashbackGrants(ctx context.Context) ([]domain.CashbackGrant, error)
}

// ShipmentGoodsRepository loads and applies diff-based updates to shipment goods records.
type ShipmentGoodsRepository interface {
	// Load returns the persisted goods record. Should return a RepositoryError with IsNotFound
	// when the shipment does not exist.
	Load(ctx context.Context, shipmentID string) (domain.GoodsRecord, error)
	// ApplySubmission persists the payload atomically, creating a shipment when ShipmentID is empty.
	// Domain rejections are reported as *GoodsWriteError.
	ApplySubmission(ctx context.Context, submission domain.GoodsSubmission) (domain.SubmissionReceipt, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.ReadinessReport, error)
}
