package dayclosehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/dayclose"
	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/recipes"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type dayService interface {
	GetDay(ctx context.Context, date time.Time) (dayclose.DailyRecord, error)
	OpenDay(ctx context.Context, in dayclose.OpenDayInput) (dayclose.DailyRecord, error)
	SetOpeningCount(ctx context.Context, in dayclose.CountInput) (ledger.Movement, error)
	RecordClosingCount(ctx context.Context, in dayclose.CountInput) (ledger.Movement, error)
	RecordDelivery(ctx context.Context, in dayclose.DeliveryInput) (ledger.Movement, error)
	RecordTransfer(ctx context.Context, in dayclose.TransferInput) (ledger.Movement, error)
	RecordSpoilage(ctx context.Context, in dayclose.SpoilageInput) (ledger.Movement, error)
	VoidMovement(ctx context.Context, in dayclose.VoidMovementInput) (ledger.Movement, error)
	RecordSale(ctx context.Context, in dayclose.RecordSaleInput) (reconcile.RecordedSale, error)
	GetSale(ctx context.Context, date time.Time, id int64) (reconcile.RecordedSale, error)
	VoidSale(ctx context.Context, in dayclose.VoidSaleInput) (reconcile.RecordedSale, error)
	ComputeUsage(ctx context.Context, ingredientID int64, date time.Time) (ledger.UsageRow, error)
	LedgerPreview(ctx context.Context, date time.Time) (dayclose.LedgerView, error)
	Reconcile(ctx context.Context, date time.Time) (reconcile.Report, error)
	Preview(ctx context.Context, date time.Time) (dayclose.DaySummary, error)
	CloseDay(ctx context.Context, in dayclose.CloseDayInput) (dayclose.DailyRecord, error)
	ReopenDay(ctx context.Context, in dayclose.ReopenDayInput) (dayclose.DailyRecord, error)
	ReopenHistory(ctx context.Context, date time.Time) ([]dayclose.ReopenAudit, error)
}

// TimelineService pages the edit history of a day.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler exposes the business day lifecycle as a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   dayService
	timeline  TimelineService
	validator *validator.Validate
}

// NewHandler constructs a dayclose HTTP handler.
func NewHandler(logger *slog.Logger, service dayService, timeline TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		timeline:  timeline,
		validator: validator.New(),
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/days/{date}", func(r chi.Router) {
		r.Get("/", h.getDay)
		r.Post("/open", h.openDay)
		r.Put("/opening-counts", h.setOpeningCount)
		r.Put("/closing-counts", h.recordClosingCount)
		r.Post("/deliveries", h.recordDelivery)
		r.Post("/transfers", h.recordTransfer)
		r.Post("/spoilage", h.recordSpoilage)
		r.Post("/movements/{id}/void", h.voidMovement)
		r.Post("/sales", h.recordSale)
		r.Get("/sales/{id}", h.getSale)
		r.Post("/sales/{id}/void", h.voidSale)
		r.Get("/usage/{ingredientID}", h.usage)
		r.Get("/ledger", h.ledgerPreview)
		r.Get("/reconciliation", h.reconciliation)
		r.Get("/preview", h.preview)
		r.Post("/close", h.closeDay)
		r.Post("/reopen", h.reopenDay)
		r.Get("/reopens", h.reopens)
		r.Get("/audit", h.auditTrail)
	})
}

type countLineRequest struct {
	IngredientID int64           `json:"ingredient_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type openDayRequest struct {
	Openings []countLineRequest `json:"openings" validate:"required,min=1,dive"`
	Notes    string             `json:"notes" validate:"max=500"`
}

type movementRequest struct {
	IngredientID int64               `json:"ingredient_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal     `json:"quantity"`
	UnitCost     decimal.NullDecimal `json:"unit_cost"`
	Source       string              `json:"source" validate:"omitempty,oneof=STORAGE ACTIVE"`
	Destination  string              `json:"destination" validate:"omitempty,oneof=STORAGE ACTIVE"`
	Reason       string              `json:"reason" validate:"omitempty,oneof=EXPIRED DAMAGED PREP_ERROR RETURNED OTHER"`
	Note         string              `json:"note" validate:"max=500"`
	ClientRef    string              `json:"client_ref" validate:"omitempty,uuid"`
}

type saleRequest struct {
	VariantID int64               `json:"variant_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal     `json:"quantity"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
	ClientRef string              `json:"client_ref" validate:"omitempty,uuid"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
	Notes  string `json:"notes" validate:"max=1000"`
}

type closeRequest struct {
	Notes           string `json:"notes" validate:"max=500"`
	ExpectedVersion int64  `json:"expected_version" validate:"gte=0"`
}

type reopenRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version" validate:"gte=0"`
}

func (h *Handler) getDay(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetDay(r.Context(), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) openDay(w http.ResponseWriter, r *http.Request) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var req openDayRequest
	if !h.decode(w, r, &req) {
		return
	}
	openings := make([]dayclose.CountLine, 0, len(req.Openings))
	for _, line := range req.Openings {
		openings = append(openings, dayclose.CountLine{IngredientID: line.IngredientID, Quantity: line.Quantity})
	}
	rec, err := h.service.OpenDay(r.Context(), dayclose.OpenDayInput{Date: date, ActorID: actor, Openings: openings, Notes: req.Notes})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) setOpeningCount(w http.ResponseWriter, r *http.Request) {
	h.count(w, r, h.service.SetOpeningCount)
}

func (h *Handler) recordClosingCount(w http.ResponseWriter, r *http.Request) {
	h.count(w, r, h.service.RecordClosingCount)
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request, fn func(context.Context, dayclose.CountInput) (ledger.Movement, error)) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var req countLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	mv, err := fn(r.Context(), dayclose.CountInput{Date: date, ActorID: actor, IngredientID: req.IngredientID, Quantity: req.Quantity})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mv)
}

func (h *Handler) recordDelivery(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, func(ctx context.Context, date time.Time, actor int64, req movementRequest) (ledger.Movement, error) {
		return h.service.RecordDelivery(ctx, dayclose.DeliveryInput{
			Date: date, ActorID: actor, IngredientID: req.IngredientID, Quantity: req.Quantity,
			UnitCost: req.UnitCost, Note: req.Note, ClientRef: req.ClientRef,
		})
	})
}

func (h *Handler) recordTransfer(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, func(ctx context.Context, date time.Time, actor int64, req movementRequest) (ledger.Movement, error) {
		return h.service.RecordTransfer(ctx, dayclose.TransferInput{
			Date: date, ActorID: actor, IngredientID: req.IngredientID, Quantity: req.Quantity,
			Source: ledger.Location(req.Source), Destination: ledger.Location(req.Destination),
			Note: req.Note, ClientRef: req.ClientRef,
		})
	})
}

func (h *Handler) recordSpoilage(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, func(ctx context.Context, date time.Time, actor int64, req movementRequest) (ledger.Movement, error) {
		return h.service.RecordSpoilage(ctx, dayclose.SpoilageInput{
			Date: date, ActorID: actor, IngredientID: req.IngredientID, Quantity: req.Quantity,
			Reason: ledger.SpoilageReason(req.Reason), Note: req.Note, ClientRef: req.ClientRef,
		})
	})
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, fn func(context.Context, time.Time, int64, movementRequest) (ledger.Movement, error)) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	mv, err := fn(r.Context(), date, actor, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) voidMovement(w http.ResponseWriter, r *http.Request) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	id, ok := h.int64Param(w, r, "id")
	if !ok {
		return
	}
	var req voidRequest
	if !h.decode(w, r, &req) {
		return
	}
	mv, err := h.service.VoidMovement(r.Context(), dayclose.VoidMovementInput{Date: date, ActorID: actor, MovementID: id, Reason: req.Reason})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mv)
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var req saleRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.service.RecordSale(r.Context(), dayclose.RecordSaleInput{
		Date: date, ActorID: actor, VariantID: req.VariantID, Quantity: req.Quantity,
		UnitPrice: req.UnitPrice, ClientRef: req.ClientRef,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	id, ok := h.int64Param(w, r, "id")
	if !ok {
		return
	}
	sale, err := h.service.GetSale(r.Context(), date, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) voidSale(w http.ResponseWriter, r *http.Request) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	id, ok := h.int64Param(w, r, "id")
	if !ok {
		return
	}
	var req voidRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.service.VoidSale(r.Context(), dayclose.VoidSaleInput{Date: date, ActorID: actor, SaleID: id, Reason: req.Reason, Notes: req.Notes})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) usage(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	id, ok := h.int64Param(w, r, "ingredientID")
	if !ok {
		return
	}
	row, err := h.service.ComputeUsage(r.Context(), id, date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) ledgerPreview(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	view, err := h.service.LedgerPreview(r.Context(), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) reconciliation(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	report, err := h.service.Reconcile(r.Context(), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Preview(r.Context(), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) closeDay(w http.ResponseWriter, r *http.Request) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	rec, err := h.service.CloseDay(r.Context(), dayclose.CloseDayInput{Date: date, ActorID: actor, Notes: req.Notes, ExpectedVersion: req.ExpectedVersion})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) reopenDay(w http.ResponseWriter, r *http.Request) {
	date, actor, ok := h.mutation(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.ReopenDay(r.Context(), dayclose.ReopenDayInput{Date: date, ActorID: actor, Reason: req.Reason, ExpectedVersion: req.ExpectedVersion})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) reopens(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	history, err := h.service.ReopenHistory(r.Context(), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	if h.timeline == nil {
		httpx.Problem(w, http.StatusNotImplemented, http.StatusText(http.StatusNotImplemented), "audit timeline not configured")
		return
	}
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	result, err := h.timeline.Timeline(r.Context(), audit.TimelineFilters{
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Action:   q.Get("action"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) date(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := shared.ParseBusinessDate(chi.URLParam(r, "date"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return time.Time{}, false
	}
	return date, true
}

// mutation resolves the business date and the acting user of a write.
func (h *Handler) mutation(w http.ResponseWriter, r *http.Request) (time.Time, int64, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrActorRequired.Error())
		return time.Time{}, 0, false
	}
	date, ok := h.date(w, r)
	if !ok {
		return time.Time{}, 0, false
	}
	return date, actor, true
}

func (h *Handler) int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return h.validate(w, dst)
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return h.validate(w, dst)
	}
	return h.decode(w, r, dst)
}

func (h *Handler) validate(w http.ResponseWriter, dst any) bool {
	err := h.validator.Struct(dst)
	if err == nil {
		return true
	}
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
	}
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Title:  "Validation Failed",
		Status: http.StatusBadRequest,
		Detail: "request body failed validation",
		Errors: fields,
	})
	return false
}

// Problem types returned by the API.
const (
	ProblemIncompleteData       = "/problems/incomplete-data"
	ProblemInvalidRecipe        = "/problems/invalid-recipe"
	ProblemLifecycleViolation   = "/problems/lifecycle-violation"
	ProblemConcurrentTransition = "/problems/concurrent-transition"
	ProblemDuplicateRequest     = "/problems/duplicate-request"
)

// respondError maps the domain taxonomy onto problem responses. Incomplete
// data and invalid recipes are checked first because close preconditions wrap
// them in a lifecycle violation.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var incomplete *ledger.IncompleteDataError
	switch {
	case errors.As(err, &incomplete):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Type:   ProblemIncompleteData,
			Title:  "Incomplete Data",
			Status: http.StatusUnprocessableEntity,
			Detail: incomplete.Error(),
			Errors: map[string]any{"ingredient_ids": incomplete.IngredientIDs(), "ingredients": incomplete.Names()},
		})
	case errors.Is(err, ledger.ErrIncompleteData):
		httpx.WriteProblem(w, httpx.ProblemDetail{Type: ProblemIncompleteData, Title: "Incomplete Data", Status: http.StatusUnprocessableEntity, Detail: err.Error()})
	case errors.Is(err, recipes.ErrInvalidRecipe):
		httpx.WriteProblem(w, httpx.ProblemDetail{Type: ProblemInvalidRecipe, Title: "Invalid Recipe", Status: http.StatusUnprocessableEntity, Detail: err.Error()})
	case errors.Is(err, dayclose.ErrConcurrentTransition):
		httpx.WriteProblem(w, httpx.ProblemDetail{Type: ProblemConcurrentTransition, Title: "Concurrent Transition", Status: http.StatusConflict, Detail: err.Error()})
	case errors.Is(err, dayclose.ErrLifecycleViolation):
		httpx.WriteProblem(w, httpx.ProblemDetail{Type: ProblemLifecycleViolation, Title: "Lifecycle Violation", Status: http.StatusConflict, Detail: err.Error()})
	case errors.Is(err, dayclose.ErrDuplicateRequest):
		httpx.WriteProblem(w, httpx.ProblemDetail{Type: ProblemDuplicateRequest, Title: "Duplicate Request", Status: http.StatusConflict, Detail: err.Error()})
	case errors.Is(err, dayclose.ErrDayNotFound), errors.Is(err, dayclose.ErrMovementNotFound),
		errors.Is(err, dayclose.ErrSaleNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, dayclose.ErrInvalidInput), errors.Is(err, dayclose.ErrUnknownIngredient),
		errors.Is(err, dayclose.ErrUnknownVariant), errors.Is(err, shared.ErrInvalidDate):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("dayclose request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// ActorFromHeader returns middleware that reads the acting user id from the
// X-Actor-ID header. Authentication happens upstream.
func ActorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid X-Actor-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), id)))
	})
}
