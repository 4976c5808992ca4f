package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
	"github.com/cargodesk/api/internal/platform/httpx"
	"github.com/cargodesk/api/internal/platform/requestctx"
	"github.com/cargodesk/api/internal/services"
)

const maxEditorRequestBody = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// Integer fields are stored as 32-bit values downstream.
var (
	minFieldInt = decimal.NewFromInt(math.MinInt32)
	maxFieldInt = decimal.NewFromInt(math.MaxInt32)
)

// bagNumberPolicy strips markup from free-text labels printed on bag stickers.
var bagNumberPolicy = bluemonday.StrictPolicy()

// serviceFieldOrder fixes the order in which a PATCH applies fields, so an override flag
// lands before the unit price it unlocks.
var serviceFieldOrder = []services.ServiceField{
	services.FieldNomenclature,
	services.FieldProductType,
	services.FieldBagNumber,
	services.FieldQuantity,
	services.FieldWeight,
	services.FieldIndividualDiscount,
	services.FieldPriceOverridden,
	services.FieldUnitPrice,
}

// EditorHandlers exposes the goods line-item editor beneath /editor.
type EditorHandlers struct {
	svc               services.EditorService
	submitMiddlewares []func(http.Handler) http.Handler
	openLimiter       sessionLimiter
}

// EditorHandlerOption customises EditorHandlers.
type EditorHandlerOption func(*EditorHandlers)

// WithSubmitMiddlewares wraps only the submit route, e.g. with the idempotency guard.
func WithSubmitMiddlewares(mw ...func(http.Handler) http.Handler) EditorHandlerOption {
	return func(h *EditorHandlers) {
		for _, m := range mw {
			if m != nil {
				h.submitMiddlewares = append(h.submitMiddlewares, m)
			}
		}
	}
}

// WithSessionOpenLimit caps how many sessions one operator may open per window for the same
// shipment. New drafts share one bucket per operator.
func WithSessionOpenLimit(limit int, window time.Duration, clock func() time.Time) EditorHandlerOption {
	return func(h *EditorHandlers) {
		h.openLimiter = newSessionOpenLimiter(limit, window, clock)
	}
}

// NewEditorHandlers constructs the editor handler set.
func NewEditorHandlers(svc services.EditorService, opts ...EditorHandlerOption) *EditorHandlers {
	h := &EditorHandlers{svc: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the editor endpoints.
func (h *EditorHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Post("/sessions", h.openSession)
	r.Route("/sessions/{sessionId}", func(s chi.Router) {
		s.Get("/", h.getSession)
		s.Delete("/", h.closeSession)
		s.Patch("/draft", h.updateDraft)
		s.Put("/selection", h.selectCandidate)
		s.Delete("/selection", h.clearSelection)
		s.Post("/services", h.addService)
		s.Post("/services/bulk", h.bulkCreate)
		s.Post("/services/duplicate", h.duplicateServices)
		s.Post("/services/remove", h.removeServices)
		s.Patch("/services/{itemId}", h.updateService)
		s.Delete("/services/{itemId}", h.removeService)
		s.Patch("/products/{productId}", h.updateProduct)
		s.With(h.submitMiddlewares...).Post("/submit", h.submit)
	})
}

func (h *EditorHandlers) openSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req openSessionRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	operator := requestctx.Operator(ctx)
	if h.openLimiter != nil && !h.openLimiter.Allow(operator, req.ShipmentID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many sessions opened, try again later", http.StatusTooManyRequests))
		return
	}

	snapshot, err := h.svc.OpenSession(ctx, services.OpenEditorSessionCommand{
		ShipmentID:          req.ShipmentID,
		DestinationBranchID: req.DestinationBranchID,
		SenderID:            req.SenderID,
		RecipientID:         req.RecipientID,
		PaymentMethod:       req.PaymentMethod,
		OperatorID:          operator,
	})
	if err != nil {
		writeEditorError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, sessionResponse{Session: buildSessionPayload(snapshot)})
}

func (h *EditorHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	snapshot, err := h.svc.Snapshot(ctx, chi.URLParam(r, "sessionId"))
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	if err := h.svc.CloseSession(ctx, chi.URLParam(r, "sessionId")); err != nil {
		writeEditorError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EditorHandlers) updateDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req updateDraftRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	snapshot, err := h.svc.UpdateDraft(ctx, services.UpdateDraftCommand{
		SessionID:             chi.URLParam(r, "sessionId"),
		DestinationBranchID:   req.DestinationBranchID,
		SenderID:              req.SenderID,
		RecipientID:           req.RecipientID,
		PaymentMethod:         req.PaymentMethod,
		MarkupPercent:         req.MarkupPercent,
		DiscountCustomPercent: req.DiscountCustomPercent,
		DeclaredValue:         req.DeclaredValue,
		CommissionPercent:     req.CommissionPercent,
	})
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) selectCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req selectCandidateRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	snapshot, err := h.svc.SelectCandidate(ctx, services.SelectCandidateCommand{
		SessionID: chi.URLParam(r, "sessionId"),
		Kind:      domain.CandidateKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		ID:        req.ID,
	})
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) clearSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	snapshot, err := h.svc.ClearSelection(ctx, chi.URLParam(r, "sessionId"))
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) addService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	snapshot, err := h.svc.AddServiceItem(ctx, chi.URLParam(r, "sessionId"))
	if err != nil {
		writeEditorError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, sessionResponse{Session: buildSessionPayload(snapshot)})
}

func (h *EditorHandlers) bulkCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req bulkCreateRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	snapshot, err := h.svc.BulkCreateServiceItems(ctx, services.BulkCreateCommand{
		SessionID: chi.URLParam(r, "sessionId"),
		Count:     req.Count,
		ItemIDs:   req.ItemIDs,
	})
	if err != nil {
		writeEditorError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, sessionResponse{Session: buildSessionPayload(snapshot)})
}

func (h *EditorHandlers) duplicateServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req serviceIDsRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	snapshot, err := h.svc.DuplicateServiceItems(ctx, services.ServiceItemsCommand{
		SessionID: chi.URLParam(r, "sessionId"),
		ItemIDs:   req.ItemIDs,
	})
	if err != nil {
		writeEditorError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, sessionResponse{Session: buildSessionPayload(snapshot)})
}

func (h *EditorHandlers) removeServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req serviceIDsRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	snapshot, err := h.svc.RemoveServiceItems(ctx, services.ServiceItemsCommand{
		SessionID: chi.URLParam(r, "sessionId"),
		ItemIDs:   req.ItemIDs,
	})
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) updateService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	itemID, err := parseIDParam(r, "itemId")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req updateServiceRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	updates, err := parseFieldUpdates(req.Fields)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_field", err.Error(), http.StatusBadRequest))
		return
	}

	snapshot, err := h.svc.UpdateServiceItem(ctx, services.UpdateServiceItemCommand{
		SessionID: chi.URLParam(r, "sessionId"),
		ItemID:    itemID,
		Fields:    updates,
	})
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) removeService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	itemID, err := parseIDParam(r, "itemId")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	snapshot, err := h.svc.RemoveServiceItems(ctx, services.ServiceItemsCommand{
		SessionID: chi.URLParam(r, "sessionId"),
		ItemIDs:   []int64{itemID},
	})
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	productID, err := parseIDParam(r, "productId")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req updateProductRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	snapshot, err := h.svc.UpdateProductItem(ctx, services.UpdateProductItemCommand{
		SessionID: chi.URLParam(r, "sessionId"),
		ProductID: productID,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})
	h.respond(ctx, w, snapshot, err)
}

func (h *EditorHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	result, err := h.svc.Submit(ctx, chi.URLParam(r, "sessionId"))
	if err != nil {
		writeEditorError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, submitResponse{Submission: submissionPayload{
		SessionID:   result.SessionID,
		ShipmentID:  result.ShipmentID,
		Amount:      money(result.Amount),
		Created:     result.Created,
		Updated:     result.Updated,
		Deleted:     result.Deleted,
		SubmittedAt: formatTime(result.SubmittedAt),
		EventID:     result.EventID,
	}})
}

func (h *EditorHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.svc == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "editor service not available", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *EditorHandlers) respond(ctx context.Context, w http.ResponseWriter, snapshot services.EditorSnapshot, err error) {
	if err != nil {
		writeEditorError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponse{Session: buildSessionPayload(snapshot)})
}

type openSessionRequest struct {
	ShipmentID          string `json:"shipment_id"`
	DestinationBranchID int64  `json:"destination_branch_id"`
	SenderID            int64  `json:"sender_id"`
	RecipientID         int64  `json:"recipient_id"`
	PaymentMethod       string `json:"payment_method"`
}

type updateDraftRequest struct {
	DestinationBranchID   *int64           `json:"destination_branch_id"`
	SenderID              *int64           `json:"sender_id"`
	RecipientID           *int64           `json:"recipient_id"`
	PaymentMethod         *string          `json:"payment_method"`
	MarkupPercent         *decimal.Decimal `json:"markup_percent"`
	DiscountCustomPercent *decimal.Decimal `json:"discount_custom"`
	DeclaredValue         *decimal.Decimal `json:"declared_value"`
	CommissionPercent     *decimal.Decimal `json:"commission_percent"`
}

type selectCandidateRequest struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

type bulkCreateRequest struct {
	Count   int     `json:"count"`
	ItemIDs []int64 `json:"item_ids"`
}

type serviceIDsRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

type updateServiceRequest struct {
	Fields map[string]json.RawMessage `json:"fields"`
}

type updateProductRequest struct {
	Quantity *int             `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

type sessionResponse struct {
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	SessionID         string             `json:"session_id"`
	ExpiresAt         string             `json:"expires_at"`
	Draft             draftPayload       `json:"draft"`
	Services          []servicePayload   `json:"services"`
	DeletedServiceIDs []int64            `json:"deleted_service_ids"`
	Products          []productPayload   `json:"products"`
	Candidates        []candidatePayload `json:"candidates"`
	Totals            totalsPayload      `json:"totals"`
}

type draftPayload struct {
	ShipmentID            string `json:"shipment_id,omitempty"`
	DestinationBranchID   int64  `json:"destination_branch_id"`
	SenderID              int64  `json:"sender_id"`
	RecipientID           int64  `json:"recipient_id"`
	PaymentMethod         string `json:"payment_method"`
	MarkupPercent         string `json:"markup_percent"`
	DiscountCustomPercent string `json:"discount_custom"`
	DeclaredValue         string `json:"declared_value"`
	CommissionPercent     string `json:"commission_percent"`
	CommissionAmount      string `json:"commission_amount"`
	SelectedDiscountID    int64  `json:"selected_discount_id,omitempty"`
	SelectedCashbackID    int64  `json:"selected_cashback_id,omitempty"`
	CashbackTarget        string `json:"cashback_target,omitempty"`
}

type servicePayload struct {
	ID                 int64   `json:"id"`
	NomenclatureID     int64   `json:"nomenclature_id,omitempty"`
	ProductTypeID      int64   `json:"product_type_id,omitempty"`
	Barcode            string  `json:"barcode"`
	BagNumber          string  `json:"bag_number,omitempty"`
	Quantity           int     `json:"quantity"`
	Weight             *string `json:"weight"`
	TariffRate         string  `json:"tariff_rate"`
	IndividualDiscount string  `json:"individual_discount"`
	IsPriceOverridden  bool    `json:"is_price_overridden"`
	UnitPrice          string  `json:"unit_price"`
	LineSum            string  `json:"line_sum"`
	IsNew              bool    `json:"is_new"`
	IsModified         bool    `json:"is_modified"`
}

type productPayload struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	UnitPrice  string `json:"unit_price"`
	Editable   bool   `json:"editable"`
	Quantity   int    `json:"quantity"`
	LineSum    string `json:"line_sum"`
	IsNew      bool   `json:"is_new"`
	IsModified bool   `json:"is_modified"`
	Available  bool   `json:"available"`
}

type candidatePayload struct {
	Kind           string `json:"kind"`
	ID             int64  `json:"id"`
	CounterpartyID int64  `json:"counterparty_id"`
	Value          string `json:"value"`
	Label          string `json:"label"`
	Source         string `json:"source"`
}

type totalsPayload struct {
	Base             string `json:"base"`
	Final            string `json:"final"`
	Amount           string `json:"amount"`
	CommissionAmount string `json:"commission_amount"`
}

type submitResponse struct {
	Submission submissionPayload `json:"submission"`
}

type submissionPayload struct {
	SessionID   string `json:"session_id"`
	ShipmentID  string `json:"shipment_id"`
	Amount      string `json:"amount"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	SubmittedAt string `json:"submitted_at"`
	EventID     string `json:"event_id,omitempty"`
}

func buildSessionPayload(snapshot services.EditorSnapshot) sessionPayload {
	draft := snapshot.Draft
	payload := sessionPayload{
		SessionID: snapshot.SessionID,
		ExpiresAt: formatTime(snapshot.ExpiresAt),
		Draft: draftPayload{
			ShipmentID:            draft.ShipmentID,
			DestinationBranchID:   draft.DestinationBranchID,
			SenderID:              draft.SenderID,
			RecipientID:           draft.RecipientID,
			PaymentMethod:         draft.PaymentMethod,
			MarkupPercent:         draft.MarkupPercent.String(),
			DiscountCustomPercent: draft.DiscountCustomPercent.String(),
			DeclaredValue:         money(draft.DeclaredValue),
			CommissionPercent:     draft.CommissionPercent.String(),
			CommissionAmount:      money(draft.CommissionAmount),
			SelectedDiscountID:    draft.SelectedDiscountID,
			SelectedCashbackID:    draft.SelectedCashbackID,
			CashbackTarget:        string(draft.CashbackTargetRole),
		},
		Services:          make([]servicePayload, 0, len(snapshot.Services)),
		DeletedServiceIDs: make([]int64, 0, len(draft.DeletedServiceItems)),
		Products:          make([]productPayload, 0, len(snapshot.Products)),
		Candidates:        make([]candidatePayload, 0, len(snapshot.Candidates)),
		Totals: totalsPayload{
			Base:             snapshot.Totals.Base.String(),
			Final:            snapshot.Totals.Final.String(),
			Amount:           money(snapshot.Totals.Amount),
			CommissionAmount: money(snapshot.Totals.CommissionAmount),
		},
	}
	for _, item := range snapshot.Services {
		var weight *string
		if item.Weight != nil {
			w := item.Weight.String()
			weight = &w
		}
		payload.Services = append(payload.Services, servicePayload{
			ID:                 item.ID,
			NomenclatureID:     item.NomenclatureID,
			ProductTypeID:      item.ProductTypeID,
			Barcode:            item.Barcode,
			BagNumber:          item.BagNumber,
			Quantity:           item.Quantity,
			Weight:             weight,
			TariffRate:         money(item.TariffRate),
			IndividualDiscount: money(item.IndividualDiscount),
			IsPriceOverridden:  item.IsPriceOverridden,
			UnitPrice:          money(item.UnitPrice),
			LineSum:            money(item.LineSum),
			IsNew:              item.IsNew,
			IsModified:         item.IsModified,
		})
	}
	for _, item := range draft.DeletedServiceItems {
		payload.DeletedServiceIDs = append(payload.DeletedServiceIDs, item.ID)
	}
	unavailable := make(map[int64]struct{}, len(snapshot.UnavailableProducts))
	for _, id := range snapshot.UnavailableProducts {
		unavailable[id] = struct{}{}
	}
	for _, item := range snapshot.Products {
		_, missing := unavailable[item.ID]
		payload.Products = append(payload.Products, productPayload{
			ID:         item.ID,
			Name:       item.Name,
			UnitPrice:  money(item.UnitPrice),
			Editable:   item.Editable,
			Quantity:   item.Quantity,
			LineSum:    money(item.LineSum),
			IsNew:      item.IsNew,
			IsModified: item.IsModified,
			Available:  !missing,
		})
	}
	for _, candidate := range snapshot.Candidates {
		payload.Candidates = append(payload.Candidates, candidatePayload{
			Kind:           string(candidate.Kind),
			ID:             candidate.ID,
			CounterpartyID: candidate.CounterpartyID,
			Value:          candidate.Value.String(),
			Label:          candidate.Label,
			Source:         candidate.Source,
		})
	}
	return payload
}

func money(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func parseFieldUpdates(raw map[string]json.RawMessage) ([]services.FieldUpdate, error) {
	if len(raw) == 0 {
		return nil, errors.New("fields are required")
	}
	byField := make(map[services.ServiceField]json.RawMessage, len(raw))
	for name, value := range raw {
		field, ok := services.ParseServiceField(name)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		byField[field] = value
	}

	updates := make([]services.FieldUpdate, 0, len(byField))
	for _, field := range serviceFieldOrder {
		value, ok := byField[field]
		if !ok {
			continue
		}
		parsed, err := parseFieldValue(field, value)
		if err != nil {
			return nil, err
		}
		updates = append(updates, services.FieldUpdate{Field: field, Value: parsed})
	}
	return updates, nil
}

func parseFieldValue(field services.ServiceField, raw json.RawMessage) (services.FieldValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return services.NullValue(), nil
	}

	switch field {
	case services.FieldNomenclature, services.FieldProductType, services.FieldQuantity:
		var number decimal.Decimal
		if err := json.Unmarshal(trimmed, &number); err != nil || !number.IsInteger() {
			return services.FieldValue{}, fmt.Errorf("%s must be an integer", field)
		}
		if number.LessThan(minFieldInt) || number.GreaterThan(maxFieldInt) {
			return services.FieldValue{}, fmt.Errorf("%s is out of range", field)
		}
		return services.IntValue(number.IntPart()), nil
	case services.FieldWeight, services.FieldIndividualDiscount, services.FieldUnitPrice:
		var number decimal.Decimal
		if err := json.Unmarshal(trimmed, &number); err != nil {
			return services.FieldValue{}, fmt.Errorf("%s must be a number", field)
		}
		return services.DecimalValue(number), nil
	case services.FieldBagNumber:
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return services.FieldValue{}, fmt.Errorf("%s must be a string", field)
		}
		return services.TextValue(strings.TrimSpace(bagNumberPolicy.Sanitize(text))), nil
	case services.FieldPriceOverridden:
		var flag bool
		if err := json.Unmarshal(trimmed, &flag); err != nil {
			return services.FieldValue{}, fmt.Errorf("%s must be a boolean", field)
		}
		return services.BoolValue(flag), nil
	}
	return services.FieldValue{}, fmt.Errorf("unknown field %q", field)
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return id, nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxEditorRequestBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and unmarshals the body. With optional set an empty body leaves dst untouched.
func decodeJSONBody(r *http.Request, dst any, optional bool) error {
	body, err := readLimitedBody(r, maxEditorRequestBody)
	if err != nil {
		if optional && errors.Is(err, errEmptyBody) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeEditorError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "the draft cannot be submitted", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"violations": validationErr.Violations}))
		return
	}
	var submissionErr *services.SubmissionError
	if errors.As(err, &submissionErr) {
		httpx.WriteError(ctx, w, httpx.NewError("submission_failed", submissionErr.Error(), http.StatusBadGateway))
		return
	}

	switch {
	case errors.Is(err, services.ErrEditorSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrEditorRecordNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrServiceItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_item_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCandidateNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("candidate_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrSelectionLocked):
		httpx.WriteError(ctx, w, httpx.NewError("selection_locked", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProductPriceLocked):
		httpx.WriteError(ctx, w, httpx.NewError("price_locked", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrFieldNotEditable):
		httpx.WriteError(ctx, w, httpx.NewError("field_not_editable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidFieldValue):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_field", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidProductValue),
		errors.Is(err, services.ErrInvalidDraftValue),
		errors.Is(err, services.ErrEditorInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBulkCountInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_bulk_count", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBarcodeUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("barcode_unavailable", "could not draw a unique barcode, please retry", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrEditorUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "reference data temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("editor_error", "failed to process editor request", http.StatusInternalServerError))
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
