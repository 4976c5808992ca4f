package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cargodesk/api/internal/platform/config"
	"github.com/cargodesk/api/internal/repositories"
	"github.com/cargodesk/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Barcodes services.BarcodeGenerator
	Editor   services.EditorService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	publisher services.GoodsEventPublisher
	logger    func(context.Context, string, map[string]any)
	clock     func() time.Time
}

// WithPublisher sets the goods submission event publisher. Without one no events are emitted.
func WithPublisher(publisher services.GoodsEventPublisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithEventLogger routes service events to the given logger.
func WithEventLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithClock overrides the clock shared by the services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies on top of a repository registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services

	barcodes, err := services.NewBarcodeGenerator(services.BarcodeGeneratorDeps{
		Prefix: cfg.Editor.BarcodePrefix,
		Clock:  opts.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build barcode generator: %w", err)
	}
	svc.Barcodes = barcodes

	editor, err := services.NewEditorService(services.EditorServiceDeps{
		Reference:    reg.Reference(),
		Goods:        reg.ShipmentGoods(),
		Barcodes:     barcodes,
		Publisher:    opts.publisher,
		Clock:        opts.clock,
		IdleTimeout:  cfg.Editor.SessionIdleTimeout,
		MaxBulkCount: cfg.Editor.MaxBulkCount,
		Logger:       opts.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build editor service: %w", err)
	}
	svc.Editor = editor

	return svc, nil
}
