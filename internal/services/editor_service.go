package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
	"github.com/cargodesk/api/internal/repositories"
)

const (
	defaultSessionIdleTimeout = 2 * time.Hour

	editorEventSessionOpened  = "editor.session_opened"
	editorEventSessionClosed  = "editor.session_closed"
	editorEventSessionsEvict  = "editor.sessions_evicted"
	editorEventTariffMiss     = "editor.tariff_miss"
	editorEventBulkRejected   = "editor.bulk.rejected"
	editorEventSubmitted      = "editor.submitted"
	editorEventSubmitFailed   = "editor.submit.failed"
	editorEventSubmitRejected = "editor.submit.rejected"
	editorEventPublishFailed  = "editor.event_publish.failed"
)

var (
	errEditorReferenceRequired = errors.New("editor service: reference repository is required")
	errEditorGoodsRequired     = errors.New("editor service: goods repository is required")
	errEditorBarcodesRequired  = errors.New("editor service: barcode generator is required")
)

// EditorServiceDeps bundles collaborators required to host editor sessions.
type EditorServiceDeps struct {
	Reference repositories.ReferenceRepository
	Goods     repositories.ShipmentGoodsRepository
	Barcodes  BarcodeGenerator
	// Publisher is optional; when nil no submission event is emitted.
	Publisher    GoodsEventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	IdleTimeout  time.Duration
	MaxBulkCount int
	Logger       func(context.Context, string, map[string]any)
}

type editorService struct {
	reference repositories.ReferenceRepository
	goods     repositories.ShipmentGoodsRepository
	barcodes  BarcodeGenerator
	publisher GoodsEventPublisher
	resolver  DiscountCashbackResolver
	now       func() time.Time
	newID     func() string
	idle      time.Duration
	maxBulk   int
	logger    func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	sessions map[string]*editorSession
}

type editorSession struct {
	mu            sync.Mutex
	id            string
	operatorID    string
	controller    *OrderDraftController
	productTypes  map[int64]struct{}
	nomenclatures map[int64]struct{}
	lastUsed      time.Time
	closed        bool
}

type referenceData struct {
	tariffs       []domain.TariffRow
	productTypes  []domain.ProductType
	nomenclatures []domain.Nomenclature
	discounts     []domain.DiscountCounterparty
	cashbacks     []domain.CashbackGrant
}

// NewEditorService constructs an EditorService enforcing dependency validation.
func NewEditorService(deps EditorServiceDeps) (EditorService, error) {
	if deps.Reference == nil {
		return nil, errEditorReferenceRequired
	}
	if deps.Goods == nil {
		return nil, errEditorGoodsRequired
	}
	if deps.Barcodes == nil {
		return nil, errEditorBarcodesRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	idle := deps.IdleTimeout
	if idle <= 0 {
		idle = defaultSessionIdleTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &editorService{
		reference: deps.Reference,
		goods:     deps.Goods,
		barcodes:  deps.Barcodes,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		idle:      idle,
		maxBulk:   deps.MaxBulkCount,
		logger:    logger,
		sessions:  make(map[string]*editorSession),
	}, nil
}

func (s *editorService) OpenSession(ctx context.Context, cmd OpenEditorSessionCommand) (EditorSnapshot, error) {
	shipmentID := strings.TrimSpace(cmd.ShipmentID)
	if cmd.DestinationBranchID < 0 || cmd.SenderID < 0 || cmd.RecipientID < 0 {
		return EditorSnapshot{}, fmt.Errorf("%w: ids must not be negative", ErrEditorInvalidInput)
	}

	ref, err := s.loadReference(ctx)
	if err != nil {
		return EditorSnapshot{}, err
	}

	var (
		draft    domain.OrderDraft
		services []domain.ServiceLineItem
		products []domain.ProductLineItem
	)
	if shipmentID != "" {
		record, err := s.goods.Load(ctx, shipmentID)
		if err != nil {
			if isRepoNotFound(err) {
				return EditorSnapshot{}, fmt.Errorf("%w: %s", ErrEditorRecordNotFound, shipmentID)
			}
			return EditorSnapshot{}, fmt.Errorf("%w: load goods record: %v", ErrEditorUnavailable, err)
		}
		draft = record.Draft
		draft.ShipmentID = shipmentID
		services = record.Services
		products = record.Products
		for i := range services {
			services[i].IsNew, services[i].IsModified = false, false
		}
		for i := range products {
			products[i].IsNew, products[i].IsModified = false, false
		}
	} else {
		draft = domain.OrderDraft{
			DestinationBranchID: cmd.DestinationBranchID,
			PaymentMethod:       strings.TrimSpace(cmd.PaymentMethod),
		}
	}

	catalog, err := s.loadCatalog(ctx, draft.DestinationBranchID)
	if err != nil {
		return EditorSnapshot{}, err
	}

	serviceStore, err := NewServiceLineItemStore(ServiceLineItemStoreDeps{
		Tariffs:             NewTariffResolver(ref.tariffs),
		Barcodes:            s.barcodes,
		MaxBulkCount:        s.maxBulk,
		DestinationBranchID: draft.DestinationBranchID,
		IndividualDiscount:  selectedDiscountValue(draft, ref.discounts),
	}, services)
	if err != nil {
		return EditorSnapshot{}, err
	}
	controller, err := NewOrderDraftController(OrderDraftControllerDeps{
		Draft:     draft,
		Services:  serviceStore,
		Products:  NewProductLineItemStore(draft.DestinationBranchID, catalog, products),
		Resolver:  s.resolver,
		Discounts: ref.discounts,
		Cashbacks: ref.cashbacks,
	})
	if err != nil {
		return EditorSnapshot{}, err
	}
	if shipmentID == "" && (cmd.SenderID != 0 || cmd.RecipientID != 0) {
		sender, recipient := cmd.SenderID, cmd.RecipientID
		controller.OnCounterpartyChange(&sender, &recipient)
	}

	sess := &editorSession{
		id:            s.newID(),
		operatorID:    strings.TrimSpace(cmd.OperatorID),
		controller:    controller,
		productTypes:  idSet(ref.productTypes, func(p domain.ProductType) int64 { return p.ID }),
		nomenclatures: idSet(ref.nomenclatures, func(n domain.Nomenclature) int64 { return n.ID }),
		lastUsed:      s.now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger(ctx, editorEventSessionOpened, map[string]any{
		"sessionId":  sess.id,
		"shipmentId": shipmentID,
		"services":   serviceStore.Len(),
		"operatorId": sess.operatorID,
	})
	return s.snapshot(sess), nil
}

func (s *editorService) Snapshot(ctx context.Context, sessionID string) (EditorSnapshot, error) {
	return s.withSession(sessionID, func(*editorSession) error { return nil })
}

func (s *editorService) CloseSession(ctx context.Context, sessionID string) error {
	sess, err := s.acquire(sessionID)
	if err != nil {
		return err
	}
	sess.closed = true
	sess.mu.Unlock()
	s.forget(sess)

	s.logger(ctx, editorEventSessionClosed, map[string]any{"sessionId": sess.id})
	return nil
}

func (s *editorService) UpdateDraft(ctx context.Context, cmd UpdateDraftCommand) (EditorSnapshot, error) {
	if err := validateDraftCommand(cmd); err != nil {
		return EditorSnapshot{}, err
	}
	return s.withSession(cmd.SessionID, func(sess *editorSession) error {
		c := sess.controller
		if cmd.DestinationBranchID != nil && *cmd.DestinationBranchID != c.Draft().DestinationBranchID {
			catalog, err := s.loadCatalog(ctx, *cmd.DestinationBranchID)
			if err != nil {
				return err
			}
			c.OnDestinationChange(*cmd.DestinationBranchID, catalog)
			s.logTariffMisses(ctx, sess)
		}
		if cmd.SenderID != nil || cmd.RecipientID != nil {
			c.OnCounterpartyChange(cmd.SenderID, cmd.RecipientID)
		}
		if cmd.PaymentMethod != nil {
			c.SetPaymentMethod(*cmd.PaymentMethod)
		}
		if cmd.MarkupPercent != nil {
			if err := c.SetMarkupPercent(*cmd.MarkupPercent); err != nil {
				return err
			}
		}
		if cmd.DiscountCustomPercent != nil {
			if err := c.SetDiscountCustomPercent(*cmd.DiscountCustomPercent); err != nil {
				return err
			}
		}
		if cmd.DeclaredValue != nil {
			if err := c.SetDeclaredValue(*cmd.DeclaredValue); err != nil {
				return err
			}
		}
		if cmd.CommissionPercent != nil {
			if err := c.SetCommissionPercent(*cmd.CommissionPercent); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *editorService) SelectCandidate(ctx context.Context, cmd SelectCandidateCommand) (EditorSnapshot, error) {
	switch cmd.Kind {
	case domain.CandidateDiscount, domain.CandidateCashback:
	default:
		return EditorSnapshot{}, fmt.Errorf("%w: unknown candidate kind %q", ErrEditorInvalidInput, cmd.Kind)
	}
	return s.withSession(cmd.SessionID, func(sess *editorSession) error {
		return sess.controller.SelectCandidate(cmd.Kind, cmd.ID)
	})
}

func (s *editorService) ClearSelection(ctx context.Context, sessionID string) (EditorSnapshot, error) {
	return s.withSession(sessionID, func(sess *editorSession) error {
		sess.controller.ClearSelection()
		return nil
	})
}

func (s *editorService) AddServiceItem(ctx context.Context, sessionID string) (EditorSnapshot, error) {
	return s.withSession(sessionID, func(sess *editorSession) error {
		_, err := sess.controller.Services().AddItem()
		return err
	})
}

func (s *editorService) UpdateServiceItem(ctx context.Context, cmd UpdateServiceItemCommand) (EditorSnapshot, error) {
	if len(cmd.Fields) == 0 {
		return EditorSnapshot{}, fmt.Errorf("%w: at least one field is required", ErrEditorInvalidInput)
	}
	return s.withSession(cmd.SessionID, func(sess *editorSession) error {
		for _, update := range cmd.Fields {
			if err := sess.checkReference(update); err != nil {
				return err
			}
		}
		item, err := sess.controller.Services().UpdateFields(cmd.ItemID, cmd.Fields...)
		if err != nil {
			return err
		}
		if item.ProductTypeID != 0 && item.TariffRate.IsZero() {
			s.logger(ctx, editorEventTariffMiss, map[string]any{
				"sessionId":     sess.id,
				"itemId":        item.ID,
				"destinationId": sess.controller.Draft().DestinationBranchID,
				"productTypeId": item.ProductTypeID,
			})
		}
		return nil
	})
}

func (s *editorService) RemoveServiceItems(ctx context.Context, cmd ServiceItemsCommand) (EditorSnapshot, error) {
	if len(cmd.ItemIDs) == 0 {
		return EditorSnapshot{}, fmt.Errorf("%w: item ids are required", ErrEditorInvalidInput)
	}
	return s.withSession(cmd.SessionID, func(sess *editorSession) error {
		return sess.controller.Services().RemoveItems(cmd.ItemIDs)
	})
}

func (s *editorService) DuplicateServiceItems(ctx context.Context, cmd ServiceItemsCommand) (EditorSnapshot, error) {
	if len(cmd.ItemIDs) == 0 {
		return EditorSnapshot{}, fmt.Errorf("%w: item ids are required", ErrEditorInvalidInput)
	}
	return s.withSession(cmd.SessionID, func(sess *editorSession) error {
		_, err := sess.controller.Services().DuplicateSelected(cmd.ItemIDs)
		return err
	})
}

func (s *editorService) BulkCreateServiceItems(ctx context.Context, cmd BulkCreateCommand) (EditorSnapshot, error) {
	return s.withSession(cmd.SessionID, func(sess *editorSession) error {
		_, err := sess.controller.Services().BulkCreate(cmd.Count, cmd.ItemIDs)
		if errors.Is(err, ErrBulkCountInvalid) {
			s.logger(ctx, editorEventBulkRejected, map[string]any{
				"sessionId": sess.id,
				"count":     cmd.Count,
				"selected":  len(cmd.ItemIDs),
			})
		}
		return err
	})
}

func (s *editorService) UpdateProductItem(ctx context.Context, cmd UpdateProductItemCommand) (EditorSnapshot, error) {
	if cmd.Quantity == nil && cmd.Price == nil {
		return EditorSnapshot{}, fmt.Errorf("%w: quantity or price is required", ErrEditorInvalidInput)
	}
	if cmd.Quantity != nil && *cmd.Quantity < 0 {
		return EditorSnapshot{}, fmt.Errorf("%w: quantity must not be negative", ErrInvalidProductValue)
	}
	if cmd.Price != nil && cmd.Price.IsNegative() {
		return EditorSnapshot{}, fmt.Errorf("%w: price must not be negative", ErrInvalidProductValue)
	}
	return s.withSession(cmd.SessionID, func(sess *editorSession) error {
		products := sess.controller.Products()
		if cmd.Price != nil {
			if _, err := products.SetPrice(cmd.ProductID, *cmd.Price); err != nil {
				return err
			}
		}
		if cmd.Quantity != nil {
			if _, err := products.SetQuantity(cmd.ProductID, *cmd.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *editorService) Submit(ctx context.Context, sessionID string) (SubmitResult, error) {
	sess, err := s.acquire(sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	submission, err := sess.controller.BuildSubmission()
	if err != nil {
		s.touchAndRelease(sess)
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			s.logger(ctx, editorEventSubmitRejected, map[string]any{
				"sessionId":  sess.id,
				"violations": len(validationErr.Violations),
			})
		}
		return SubmitResult{}, err
	}

	receipt, err := s.goods.ApplySubmission(ctx, submission)
	if err != nil {
		s.touchAndRelease(sess)
		s.logger(ctx, editorEventSubmitFailed, map[string]any{
			"sessionId":  sess.id,
			"shipmentId": submission.ShipmentID,
			"error":      err.Error(),
		})
		return SubmitResult{}, newSubmissionError(err)
	}

	sess.closed = true
	sess.mu.Unlock()
	s.forget(sess)

	result := SubmitResult{
		SessionID:   sess.id,
		ShipmentID:  receipt.ShipmentID,
		Amount:      receipt.Amount,
		Created:     receipt.Created,
		Updated:     receipt.Updated,
		Deleted:     receipt.Deleted,
		SubmittedAt: receipt.SubmittedAt,
	}
	if result.SubmittedAt.IsZero() {
		result.SubmittedAt = s.now()
	}
	s.logger(ctx, editorEventSubmitted, map[string]any{
		"sessionId":  sess.id,
		"shipmentId": result.ShipmentID,
		"amount":     result.Amount.String(),
		"created":    result.Created,
		"updated":    result.Updated,
		"deleted":    result.Deleted,
	})

	if s.publisher != nil {
		eventID, err := s.publisher.PublishGoodsSubmitted(ctx, GoodsSubmittedEvent{
			ShipmentID:  result.ShipmentID,
			SessionID:   sess.id,
			OperatorID:  sess.operatorID,
			Amount:      result.Amount,
			Created:     result.Created,
			Updated:     result.Updated,
			Deleted:     result.Deleted,
			SubmittedAt: result.SubmittedAt,
		})
		if err != nil {
			s.logger(ctx, editorEventPublishFailed, map[string]any{
				"shipmentId": result.ShipmentID,
				"error":      err.Error(),
			})
		} else {
			result.EventID = eventID
		}
	}
	return result, nil
}

func (s *editorService) EvictIdle(ctx context.Context) int {
	s.mu.RLock()
	candidates := make([]*editorSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.RUnlock()

	now := s.now()
	evicted := 0
	for _, sess := range candidates {
		sess.mu.Lock()
		expired := !sess.closed && s.expired(sess, now)
		if expired {
			sess.closed = true
		}
		sess.mu.Unlock()
		if expired {
			s.forget(sess)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger(ctx, editorEventSessionsEvict, map[string]any{"evicted": evicted})
	}
	return evicted
}

// withSession runs fn under the session lock and returns the resulting snapshot.
func (s *editorService) withSession(sessionID string, fn func(*editorSession) error) (EditorSnapshot, error) {
	sess, err := s.acquire(sessionID)
	if err != nil {
		return EditorSnapshot{}, err
	}
	defer s.touchAndRelease(sess)

	if err := fn(sess); err != nil {
		return EditorSnapshot{}, err
	}
	sess.lastUsed = s.now()
	return s.snapshot(sess), nil
}

// acquire returns the session locked. Callers must release it.
func (s *editorService) acquire(sessionID string) (*editorSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrEditorInvalidInput)
	}
	s.mu.RLock()
	sess := s.sessions[id]
	s.mu.RUnlock()
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrEditorSessionNotFound, id)
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrEditorSessionNotFound, id)
	}
	if s.expired(sess, s.now()) {
		sess.closed = true
		sess.mu.Unlock()
		s.forget(sess)
		return nil, fmt.Errorf("%w: %s expired", ErrEditorSessionNotFound, id)
	}
	return sess, nil
}

func (s *editorService) touchAndRelease(sess *editorSession) {
	sess.lastUsed = s.now()
	sess.mu.Unlock()
}

func (s *editorService) forget(sess *editorSession) {
	s.mu.Lock()
	if current, ok := s.sessions[sess.id]; ok && current == sess {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()
}

func (s *editorService) expired(sess *editorSession, now time.Time) bool {
	return now.Sub(sess.lastUsed) > s.idle
}

func (s *editorService) snapshot(sess *editorSession) EditorSnapshot {
	c := sess.controller
	return EditorSnapshot{
		SessionID:  sess.id,
		Draft:      c.Draft(),
		Services:   c.Services().Items(),
		Products:   c.Products().Items(),
		Candidates: c.Candidates(),
		Totals:     c.ComputeTotal(),
		ExpiresAt:  sess.lastUsed.Add(s.idle),

		UnavailableProducts: c.Products().Unavailable(),
	}
}

func (s *editorService) loadReference(ctx context.Context) (referenceData, error) {
	var (
		ref referenceData
		err error
	)
	if ref.tariffs, err = s.reference.ListTariffs(ctx); err != nil {
		return referenceData{}, unavailable("load tariffs", err)
	}
	if ref.productTypes, err = s.reference.ListProductTypes(ctx); err != nil {
		return referenceData{}, unavailable("load product types", err)
	}
	if ref.nomenclatures, err = s.reference.ListNomenclatures(ctx); err != nil {
		return referenceData{}, unavailable("load nomenclatures", err)
	}
	if ref.discounts, err = s.reference.ListDiscountCounterparties(ctx); err != nil {
		return referenceData{}, unavailable("load discounts", err)
	}
	if ref.cashbacks, err = s.reference.ListCashbackGrants(ctx); err != nil {
		return referenceData{}, unavailable("load cashback grants", err)
	}
	return ref, nil
}

func (s *editorService) loadCatalog(ctx context.Context, branchID int64) ([]domain.CatalogEntry, error) {
	if branchID == 0 {
		return nil, nil
	}
	catalog, err := s.reference.ListBranchCatalog(ctx, branchID)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("load catalog for branch %d", branchID), err)
	}
	return catalog, nil
}

func (s *editorService) logTariffMisses(ctx context.Context, sess *editorSession) {
	dest := sess.controller.Draft().DestinationBranchID
	misses := 0
	for _, item := range sess.controller.Services().Items() {
		if item.ProductTypeID == 0 {
			continue
		}
		if _, ok := sess.controller.Services().tariffs.Lookup(dest, item.ProductTypeID); !ok {
			misses++
		}
	}
	if misses > 0 {
		s.logger(ctx, editorEventTariffMiss, map[string]any{
			"sessionId":     sess.id,
			"destinationId": dest,
			"items":         misses,
		})
	}
}

func (sess *editorSession) checkReference(update FieldUpdate) error {
	var known map[int64]struct{}
	switch update.Field {
	case FieldProductType:
		known = sess.productTypes
	case FieldNomenclature:
		known = sess.nomenclatures
	default:
		return nil
	}
	if len(known) == 0 || update.Value.IsNull() {
		return nil
	}
	id, ok := update.Value.asInt()
	if !ok || id == 0 {
		return nil
	}
	if _, exists := known[id]; !exists {
		return invalidField(update.Field, fmt.Sprintf("unknown id %d", id))
	}
	return nil
}

func validateDraftCommand(cmd UpdateDraftCommand) error {
	for name, id := range map[string]*int64{
		"destination_branch_id": cmd.DestinationBranchID,
		"sender_id":             cmd.SenderID,
		"recipient_id":          cmd.RecipientID,
	} {
		if id != nil && *id < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrEditorInvalidInput, name)
		}
	}
	for name, value := range map[string]*decimal.Decimal{
		"markup_percent":     cmd.MarkupPercent,
		"declared_value":     cmd.DeclaredValue,
		"commission_percent": cmd.CommissionPercent,
	} {
		if value != nil && value.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidDraftValue, name)
		}
	}
	if v := cmd.DiscountCustomPercent; v != nil && (v.IsNegative() || v.GreaterThan(hundred)) {
		return fmt.Errorf("%w: discount_custom must be between 0 and 100", ErrInvalidDraftValue)
	}
	return nil
}

func selectedDiscountValue(draft domain.OrderDraft, discounts []domain.DiscountCounterparty) decimal.Decimal {
	if draft.SelectedDiscountID == 0 {
		return decimal.Zero
	}
	for _, record := range discounts {
		if record.ID == draft.SelectedDiscountID {
			return record.Discount
		}
	}
	return decimal.Zero
}

func newSubmissionError(err error) *SubmissionError {
	var goodsErr *repositories.GoodsWriteError
	if errors.As(err, &goodsErr) {
		return &SubmissionError{Message: goodsErr.Message, Err: err}
	}
	return &SubmissionError{Err: err}
}

func unavailable(action string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrEditorUnavailable, action, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func idSet[T any](items []T, id func(T) int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(items))
	for _, item := range items {
		out[id(item)] = struct{}{}
	}
	return out
}
