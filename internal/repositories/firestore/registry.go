package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/cargodesk/api/internal/platform/firestore"
	"github.com/cargodesk/api/internal/repositories"
)

// Registry wires the Firestore repositories behind the repositories.Registry interface.
type Registry struct {
	provider  *pfirestore.Provider
	reference *ReferenceRepository
	goods     *ShipmentGoodsRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository on the shared provider. The Firestore ping is
// always probed; extra probes (e.g. Pub/Sub) are appended to the readiness report.
func NewRegistry(provider *pfirestore.Provider, extraProbes []repositories.DependencyProbe, opts ...repositories.ProbeOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reference, err := NewReferenceRepository(provider)
	if err != nil {
		return nil, err
	}
	goods, err := NewShipmentGoodsRepository(provider)
	if err != nil {
		return nil, err
	}
	probes := append([]repositories.DependencyProbe{{Name: "firestore", Check: provider.Ping}}, extraProbes...)
	health, err := repositories.NewProbeHealthRepository(probes, opts...)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, reference: reference, goods: goods, health: health}, nil
}

func (r *Registry) Reference() repositories.ReferenceRepository { return r.reference }

func (r *Registry) ShipmentGoods() repositories.ShipmentGoodsRepository { return r.goods }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Close()
}
