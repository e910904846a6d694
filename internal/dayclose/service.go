package dayclose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/recipes"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// WithTransitionTx runs fn where reads issued after LockDay(LockExclusive)
	// observe every transaction committed before the lock was granted.
	WithTransitionTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDay(ctx context.Context, date time.Time) (DailyRecord, error)
	ListMovements(ctx context.Context, dayID int64) ([]ledger.Movement, error)
	ListSales(ctx context.Context, dayID int64) ([]reconcile.RecordedSale, error)
	GetSale(ctx context.Context, id int64) (reconcile.RecordedSale, error)
	ListReopenAudits(ctx context.Context, dayID int64) ([]ReopenAudit, error)
	ListOpenDaysBefore(ctx context.Context, cutoff time.Time) ([]DailyRecord, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockDay(ctx context.Context, date time.Time, mode LockMode) (DailyRecord, error)
	InsertDay(ctx context.Context, rec DailyRecord) (DailyRecord, error)
	UpsertCount(ctx context.Context, mv ledger.Movement) (ledger.Movement, error)
	InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error)
	LoadMovement(ctx context.Context, id int64) (ledger.Movement, error)
	VoidMovement(ctx context.Context, id int64, v Void) error
	InsertSale(ctx context.Context, sale reconcile.RecordedSale) (reconcile.RecordedSale, error)
	LoadSale(ctx context.Context, id int64) (reconcile.RecordedSale, error)
	VoidSale(ctx context.Context, id int64, v Void) error
	ListMovements(ctx context.Context, dayID int64) ([]ledger.Movement, error)
	ListSales(ctx context.Context, dayID int64) ([]reconcile.RecordedSale, error)
	FreezeDay(ctx context.Context, p FreezeParams) (DailyRecord, error)
	ReopenDay(ctx context.Context, p ReopenParams) (DailyRecord, error)
	InsertReopenAudit(ctx context.Context, a ReopenAudit) (ReopenAudit, error)
}

// CatalogPort reads reference data. Lookups of unknown ids return an error
// wrapping shared.ErrNotFound.
type CatalogPort interface {
	TrackedIngredients(ctx context.Context) ([]ledger.Ingredient, error)
	ActiveVariants(ctx context.Context) ([]recipes.Variant, error)
	Recipes(ctx context.Context) ([]recipes.Recipe, error)
	Variant(ctx context.Context, id int64) (recipes.Variant, error)
}

// StaffingPort answers the close precondition on staffing.
type StaffingPort interface {
	HasConfirmedShift(ctx context.Context, date time.Time) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims client request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Deps wires collaborators into the service.
type Deps struct {
	Repo        RepositoryPort
	Catalog     CatalogPort
	Staffing    StaffingPort
	Locker      shared.Locker
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     *Metrics
	Logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LockTTL time.Duration
}

// Service drives the business day lifecycle.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	staffing    StaffingPort
	locker      shared.Locker
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     *Metrics
	logger      *slog.Logger
	lockTTL     time.Duration
	now         func() time.Time
}

const idempotencyModule = "dayclose"

// NewService builds Service.
func NewService(deps Deps, cfg ServiceConfig) *Service {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	locker := deps.Locker
	if locker == nil {
		locker = shared.NewLocalLocker()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		catalog:     deps.Catalog,
		staffing:    deps.Staffing,
		locker:      locker,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      logger,
		lockTTL:     ttl,
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetDay returns the record for date, or a NotStarted placeholder.
func (s *Service) GetDay(ctx context.Context, date time.Time) (DailyRecord, error) {
	date = shared.NormalizeBusinessDate(date)
	rec, err := s.repo.GetDay(ctx, date)
	if errors.Is(err, ErrDayNotFound) {
		return DailyRecord{Date: date, State: DayStateNotStarted}, nil
	}
	if err != nil {
		return DailyRecord{}, err
	}
	return rec, nil
}

// OpenDay creates the day's record with an opening count for every tracked
// ingredient. Partial opening data is rejected.
func (s *Service) OpenDay(ctx context.Context, in OpenDayInput) (DailyRecord, error) {
	if err := in.Validate(); err != nil {
		return DailyRecord{}, err
	}
	date := shared.NormalizeBusinessDate(in.Date)
	tracked, err := s.catalog.TrackedIngredients(ctx)
	if err != nil {
		return DailyRecord{}, fmt.Errorf("dayclose: load ingredients: %w", err)
	}
	counted := make(map[int64]struct{}, len(in.Openings))
	for _, line := range in.Openings {
		counted[line.IngredientID] = struct{}{}
	}
	known := make(map[int64]struct{}, len(tracked))
	var missing []ledger.MissingCount
	for _, ing := range tracked {
		known[ing.ID] = struct{}{}
		if _, ok := counted[ing.ID]; !ok {
			missing = append(missing, ledger.MissingCount{IngredientID: ing.ID, IngredientName: ing.Name, Type: ledger.MovementOpening})
		}
	}
	for _, line := range in.Openings {
		if _, ok := known[line.IngredientID]; !ok {
			return DailyRecord{}, fmt.Errorf("%w: %d", ErrUnknownIngredient, line.IngredientID)
		}
	}
	if len(missing) > 0 {
		err := &LifecycleViolationError{
			Date:      date,
			State:     DayStateNotStarted,
			Operation: OpOpen,
			Reason:    "opening count required for every tracked ingredient",
			Err:       &ledger.IncompleteDataError{Missing: missing},
		}
		s.observe(OpOpen, date, in.ActorID, err)
		return DailyRecord{}, err
	}

	var rec DailyRecord
	err = s.withTransitionLock(ctx, date, OpOpen, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			existing, err := tx.LockDay(ctx, date, LockExclusive)
			if err == nil {
				return violation(date, existing.State, OpOpen, "day already started")
			}
			if !errors.Is(err, ErrDayNotFound) {
				return err
			}
			now := s.now().UTC()
			actor := in.ActorID
			rec, err = tx.InsertDay(ctx, DailyRecord{
				Date:     date,
				State:    DayStateOpen,
				Version:  1,
				OpenedAt: &now,
				OpenedBy: &actor,
				Notes:    strings.TrimSpace(in.Notes),
			})
			if err != nil {
				return err
			}
			for _, line := range in.Openings {
				if _, err := tx.UpsertCount(ctx, ledger.Movement{
					DayID:        rec.ID,
					IngredientID: line.IngredientID,
					Type:         ledger.MovementOpening,
					Quantity:     line.Quantity,
					RecordedBy:   in.ActorID,
					RecordedAt:   now,
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	err = conflict(date, OpOpen, err)
	s.observe(OpOpen, date, in.ActorID, err)
	if err != nil {
		return DailyRecord{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionDayOpened,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta:     map[string]any{"openings": len(in.Openings)},
	})
	return rec, nil
}

// SetOpeningCount replaces the opening count of an ingredient while Open.
func (s *Service) SetOpeningCount(ctx context.Context, in CountInput) (ledger.Movement, error) {
	return s.recordCount(ctx, in, ledger.MovementOpening)
}

// RecordClosingCount enters or replaces the closing count of an ingredient while Open.
func (s *Service) RecordClosingCount(ctx context.Context, in CountInput) (ledger.Movement, error) {
	return s.recordCount(ctx, in, ledger.MovementClosing)
}

func (s *Service) recordCount(ctx context.Context, in CountInput, typ ledger.MovementType) (ledger.Movement, error) {
	if err := in.Validate(); err != nil {
		return ledger.Movement{}, err
	}
	date := shared.NormalizeBusinessDate(in.Date)
	if _, err := s.trackedIngredient(ctx, in.IngredientID); err != nil {
		return ledger.Movement{}, err
	}
	var saved ledger.Movement
	err := s.mutate(ctx, date, OpRecordCount, func(ctx context.Context, tx TxRepository, day DailyRecord) error {
		var err error
		saved, err = tx.UpsertCount(ctx, ledger.Movement{
			DayID:        day.ID,
			IngredientID: in.IngredientID,
			Type:         typ,
			Quantity:     in.Quantity,
			RecordedBy:   in.ActorID,
			RecordedAt:   s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return ledger.Movement{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionCountRecorded,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta: map[string]any{
			"ingredient_id": in.IngredientID,
			"type":          string(typ),
			"quantity":      in.Quantity.String(),
		},
	})
	return saved, nil
}

// RecordDelivery appends a supplier delivery.
func (s *Service) RecordDelivery(ctx context.Context, in DeliveryInput) (ledger.Movement, error) {
	return s.recordMovement(ctx, in.Date, in.ActorID, ledger.Movement{
		IngredientID: in.IngredientID,
		Type:         ledger.MovementDelivery,
		Quantity:     in.Quantity,
		UnitCost:     in.UnitCost,
		Destination:  ledger.LocationActive,
		Note:         strings.TrimSpace(in.Note),
		ClientRef:    in.ClientRef,
	})
}

// RecordTransfer appends a movement between locations.
func (s *Service) RecordTransfer(ctx context.Context, in TransferInput) (ledger.Movement, error) {
	return s.recordMovement(ctx, in.Date, in.ActorID, ledger.Movement{
		IngredientID: in.IngredientID,
		Type:         ledger.MovementTransfer,
		Quantity:     in.Quantity,
		Source:       in.Source,
		Destination:  in.Destination,
		Note:         strings.TrimSpace(in.Note),
		ClientRef:    in.ClientRef,
	})
}

// RecordSpoilage appends discarded stock with its reason code.
func (s *Service) RecordSpoilage(ctx context.Context, in SpoilageInput) (ledger.Movement, error) {
	return s.recordMovement(ctx, in.Date, in.ActorID, ledger.Movement{
		IngredientID:   in.IngredientID,
		Type:           ledger.MovementSpoilage,
		Quantity:       in.Quantity,
		SpoilageReason: in.Reason,
		Note:           strings.TrimSpace(in.Note),
		ClientRef:      in.ClientRef,
	})
}

func (s *Service) recordMovement(ctx context.Context, date time.Time, actorID int64, mv ledger.Movement) (ledger.Movement, error) {
	if err := validateHeader(date, actorID); err != nil {
		return ledger.Movement{}, err
	}
	if err := validateClientRef(mv.ClientRef); err != nil {
		return ledger.Movement{}, err
	}
	if err := mv.Validate(); err != nil {
		return ledger.Movement{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	date = shared.NormalizeBusinessDate(date)
	if _, err := s.trackedIngredient(ctx, mv.IngredientID); err != nil {
		return ledger.Movement{}, err
	}
	key, err := s.claim(ctx, "movement", mv.ClientRef)
	if err != nil {
		return ledger.Movement{}, err
	}
	var saved ledger.Movement
	err = s.mutate(ctx, date, OpRecordMovement, func(ctx context.Context, tx TxRepository, day DailyRecord) error {
		mv.DayID = day.ID
		mv.RecordedBy = actorID
		mv.RecordedAt = s.now().UTC()
		var err error
		saved, err = tx.InsertMovement(ctx, mv)
		return err
	})
	if err != nil {
		s.unclaim(ctx, key)
		return ledger.Movement{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditActionMovementAdded,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta: map[string]any{
			"movement_id":   saved.ID,
			"ingredient_id": saved.IngredientID,
			"type":          string(saved.Type),
			"quantity":      saved.Quantity.String(),
		},
	})
	return saved, nil
}

// VoidMovement voids a delivery, transfer or spoilage. Counts are corrected by
// re-entering them instead.
func (s *Service) VoidMovement(ctx context.Context, in VoidMovementInput) (ledger.Movement, error) {
	if err := in.Validate(); err != nil {
		return ledger.Movement{}, err
	}
	date := shared.NormalizeBusinessDate(in.Date)
	var voided ledger.Movement
	err := s.mutate(ctx, date, OpVoidMovement, func(ctx context.Context, tx TxRepository, day DailyRecord) error {
		mv, err := tx.LoadMovement(ctx, in.MovementID)
		if err != nil {
			return err
		}
		if mv.DayID != day.ID {
			return ErrMovementNotFound
		}
		if mv.Type.Snapshot() {
			return invalid("counts are replaced, not voided")
		}
		if mv.Voided() {
			return violation(date, day.State, OpVoidMovement, "movement already voided")
		}
		v := Void{ActorID: in.ActorID, At: s.now().UTC(), Reason: strings.TrimSpace(in.Reason)}
		if err := tx.VoidMovement(ctx, mv.ID, v); err != nil {
			return err
		}
		mv.VoidedAt, mv.VoidedBy, mv.VoidReason = &v.At, &v.ActorID, v.Reason
		voided = mv
		return nil
	})
	if err != nil {
		return ledger.Movement{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionMovementVoided,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta:     map[string]any{"movement_id": voided.ID, "reason": voided.VoidReason},
	})
	return voided, nil
}

// RecordSale records a manual sale, capturing the unit price at record time.
func (s *Service) RecordSale(ctx context.Context, in RecordSaleInput) (reconcile.RecordedSale, error) {
	if err := in.Validate(); err != nil {
		return reconcile.RecordedSale{}, err
	}
	date := shared.NormalizeBusinessDate(in.Date)
	variant, err := s.catalog.Variant(ctx, in.VariantID)
	if errors.Is(err, shared.ErrNotFound) || (err == nil && !variant.Active) {
		return reconcile.RecordedSale{}, fmt.Errorf("%w: %d", ErrUnknownVariant, in.VariantID)
	}
	if err != nil {
		return reconcile.RecordedSale{}, fmt.Errorf("dayclose: load variant: %w", err)
	}
	price := variant.Price
	if in.UnitPrice.Valid {
		price = in.UnitPrice.Decimal
	}
	key, err := s.claim(ctx, "sale", in.ClientRef)
	if err != nil {
		return reconcile.RecordedSale{}, err
	}
	var saved reconcile.RecordedSale
	err = s.mutate(ctx, date, OpRecordSale, func(ctx context.Context, tx TxRepository, day DailyRecord) error {
		var err error
		saved, err = tx.InsertSale(ctx, reconcile.RecordedSale{
			DayID:      day.ID,
			VariantID:  in.VariantID,
			Quantity:   in.Quantity,
			UnitPrice:  price,
			ClientRef:  in.ClientRef,
			RecordedBy: in.ActorID,
			RecordedAt: s.now().UTC(),
		})
		return err
	})
	if err != nil {
		s.unclaim(ctx, key)
		return reconcile.RecordedSale{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionSaleRecorded,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta: map[string]any{
			"sale_id":    saved.ID,
			"variant_id": saved.VariantID,
			"quantity":   saved.Quantity.String(),
			"unit_price": saved.UnitPrice.String(),
		},
	})
	return saved, nil
}

// VoidSale marks a sale voided. The row stays retrievable with its void metadata.
func (s *Service) VoidSale(ctx context.Context, in VoidSaleInput) (reconcile.RecordedSale, error) {
	if err := in.Validate(); err != nil {
		return reconcile.RecordedSale{}, err
	}
	date := shared.NormalizeBusinessDate(in.Date)
	var voided reconcile.RecordedSale
	err := s.mutate(ctx, date, OpVoidSale, func(ctx context.Context, tx TxRepository, day DailyRecord) error {
		sale, err := tx.LoadSale(ctx, in.SaleID)
		if err != nil {
			return err
		}
		if sale.DayID != day.ID {
			return ErrSaleNotFound
		}
		if sale.Voided() {
			return violation(date, day.State, OpVoidSale, "sale already voided")
		}
		v := Void{ActorID: in.ActorID, At: s.now().UTC(), Reason: strings.TrimSpace(in.Reason), Notes: strings.TrimSpace(in.Notes)}
		if err := tx.VoidSale(ctx, sale.ID, v); err != nil {
			return err
		}
		sale.VoidedAt, sale.VoidedBy, sale.VoidReason, sale.VoidNotes = &v.At, &v.ActorID, v.Reason, v.Notes
		voided = sale
		return nil
	})
	if err != nil {
		return reconcile.RecordedSale{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionSaleVoided,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta:     map[string]any{"sale_id": voided.ID, "reason": voided.VoidReason},
	})
	return voided, nil
}

// GetSale returns a sale of the given day, voided or not.
func (s *Service) GetSale(ctx context.Context, date time.Time, id int64) (reconcile.RecordedSale, error) {
	day, err := s.repo.GetDay(ctx, shared.NormalizeBusinessDate(date))
	if errors.Is(err, ErrDayNotFound) {
		return reconcile.RecordedSale{}, ErrSaleNotFound
	}
	if err != nil {
		return reconcile.RecordedSale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return reconcile.RecordedSale{}, err
	}
	if sale.DayID != day.ID {
		return reconcile.RecordedSale{}, ErrSaleNotFound
	}
	return sale, nil
}

// ComputeUsage returns the ingredient's usage row. Open days are computed live;
// closed days answer from the frozen summary.
func (s *Service) ComputeUsage(ctx context.Context, ingredientID int64, date time.Time) (ledger.UsageRow, error) {
	date = shared.NormalizeBusinessDate(date)
	day, err := s.readableDay(ctx, date)
	if err != nil {
		return ledger.UsageRow{}, err
	}
	if day.State == DayStateClosed {
		row, ok := day.Summary.UsageRow(ingredientID)
		if !ok {
			return ledger.UsageRow{}, fmt.Errorf("%w: %d", ErrUnknownIngredient, ingredientID)
		}
		return row, nil
	}
	ingredient, err := s.trackedIngredient(ctx, ingredientID)
	if err != nil {
		return ledger.UsageRow{}, err
	}
	movements, err := s.repo.ListMovements(ctx, day.ID)
	if err != nil {
		return ledger.UsageRow{}, err
	}
	return ledger.ComputeUsage(ingredient, movements)
}

// LedgerView is the ledger part of a summary.
type LedgerView struct {
	Date   time.Time         `json:"date"`
	Source SummarySource     `json:"source"`
	Usage  []ledger.UsageRow `json:"usage"`
	Flags  []ledger.Flag     `json:"flags"`
}

// LedgerPreview returns every usage row with its closing-count classification.
func (s *Service) LedgerPreview(ctx context.Context, date time.Time) (LedgerView, error) {
	summary, err := s.Preview(ctx, date)
	if err != nil {
		return LedgerView{}, err
	}
	return LedgerView{Date: summary.Date, Source: summary.Source, Usage: summary.Usage, Flags: summary.LedgerFlags}, nil
}

// Reconcile returns the day's reconciliation report.
func (s *Service) Reconcile(ctx context.Context, date time.Time) (reconcile.Report, error) {
	summary, err := s.Preview(ctx, date)
	if err != nil {
		return reconcile.Report{}, err
	}
	return summary.Reconciliation, nil
}

// Preview recomputes the full summary of an Open day. It is never persisted.
// Closed days answer with their frozen summary, marked as such.
func (s *Service) Preview(ctx context.Context, date time.Time) (DaySummary, error) {
	date = shared.NormalizeBusinessDate(date)
	day, err := s.readableDay(ctx, date)
	if err != nil {
		return DaySummary{}, err
	}
	if day.State == DayStateClosed {
		return *day.Summary, nil
	}
	inputs, err := s.loadInputs(ctx, day.ID)
	if err != nil {
		return DaySummary{}, err
	}
	return BuildSummary(date, inputs, SummaryLive, s.now().UTC())
}

// CloseDay freezes the day's summary. Every tracked ingredient needs both counts
// and the staffing collaborator must report a confirmed shift; otherwise
// nothing is written.
func (s *Service) CloseDay(ctx context.Context, in CloseDayInput) (DailyRecord, error) {
	if err := validateHeader(in.Date, in.ActorID); err != nil {
		return DailyRecord{}, err
	}
	date := shared.NormalizeBusinessDate(in.Date)
	var (
		closed DailyRecord
		frozen DaySummary
	)
	err := s.withTransitionLock(ctx, date, OpClose, func() error {
		ref, err := s.loadCatalog(ctx)
		if err != nil {
			return err
		}
		return s.repo.WithTransitionTx(ctx, func(ctx context.Context, tx TxRepository) error {
			day, err := tx.LockDay(ctx, date, LockExclusive)
			if errors.Is(err, ErrDayNotFound) {
				return violation(date, DayStateNotStarted, OpClose, "day has not been opened")
			}
			if err != nil {
				return err
			}
			if day.State == DayStateClosed {
				return &ConcurrentTransitionError{Date: date, Operation: OpClose, State: day.State, Version: day.Version, Reason: "day already closed"}
			}
			if in.ExpectedVersion > 0 && in.ExpectedVersion != day.Version {
				return &ConcurrentTransitionError{Date: date, Operation: OpClose, State: day.State, Version: day.Version, Reason: fmt.Sprintf("expected version %d, found %d", in.ExpectedVersion, day.Version)}
			}
			ref.Movements, err = tx.ListMovements(ctx, day.ID)
			if err != nil {
				return err
			}
			ref.Sales, err = tx.ListSales(ctx, day.ID)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			summary, err := BuildSummary(date, ref, SummaryFrozen, now)
			if err != nil {
				return err
			}
			summary.ComputedBy = in.ActorID
			frozen = summary
			if err := ledger.RequireComplete(summary.Usage); err != nil {
				return &LifecycleViolationError{Date: date, State: day.State, Operation: OpClose, Reason: "counts missing", Err: err}
			}
			if err := summary.CalculatedSales.Err(); err != nil {
				return &LifecycleViolationError{Date: date, State: day.State, Operation: OpClose, Reason: "invalid recipe", Err: err}
			}
			staffed, err := s.staffing.HasConfirmedShift(ctx, date)
			if err != nil {
				return fmt.Errorf("dayclose: staffing check: %w", err)
			}
			if !staffed {
				return violation(date, day.State, OpClose, "no confirmed shift")
			}
			closed, err = tx.FreezeDay(ctx, FreezeParams{
				DayID:           day.ID,
				ExpectedVersion: day.Version,
				Summary:         summary,
				ClosedAt:        now,
				ClosedBy:        in.ActorID,
				Notes:           strings.TrimSpace(in.Notes),
			})
			return err
		})
	})
	err = conflict(date, OpClose, err)
	s.observe(OpClose, date, in.ActorID, err)
	if err != nil {
		return DailyRecord{}, err
	}
	report := frozen.Reconciliation
	s.metrics.ObserveSeverity(report.Severity)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionDayClosed,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta: map[string]any{
			"version":            closed.Version,
			"recorded_revenue":   report.RecordedTotal.String(),
			"calculated_revenue": report.CalculatedTotal.String(),
			"severity":           string(report.Severity),
		},
	})
	return closed, nil
}

// ReopenDay moves a Closed day back to Open. The frozen summary is kept until
// the next close overwrites it.
func (s *Service) ReopenDay(ctx context.Context, in ReopenDayInput) (DailyRecord, error) {
	if err := validateHeader(in.Date, in.ActorID); err != nil {
		return DailyRecord{}, err
	}
	date := shared.NormalizeBusinessDate(in.Date)
	reason := strings.TrimSpace(in.Reason)
	var reopened DailyRecord
	err := s.withTransitionLock(ctx, date, OpReopen, func() error {
		return s.repo.WithTransitionTx(ctx, func(ctx context.Context, tx TxRepository) error {
			day, err := tx.LockDay(ctx, date, LockExclusive)
			if errors.Is(err, ErrDayNotFound) {
				return violation(date, DayStateNotStarted, OpReopen, "day has not been opened")
			}
			if err != nil {
				return err
			}
			if reason == "" {
				return violation(date, day.State, OpReopen, "reason required")
			}
			if in.ExpectedVersion > 0 && in.ExpectedVersion != day.Version {
				return &ConcurrentTransitionError{Date: date, Operation: OpReopen, State: day.State, Version: day.Version, Reason: fmt.Sprintf("expected version %d, found %d", in.ExpectedVersion, day.Version)}
			}
			if day.State != DayStateClosed {
				return violation(date, day.State, OpReopen, "day is not closed")
			}
			now := s.now().UTC()
			reopened, err = tx.ReopenDay(ctx, ReopenParams{DayID: day.ID, ExpectedVersion: day.Version, At: now, ActorID: in.ActorID})
			if err != nil {
				return err
			}
			_, err = tx.InsertReopenAudit(ctx, ReopenAudit{
				DayID:            day.ID,
				ActorID:          in.ActorID,
				Reason:           reason,
				PreviousClosedAt: day.ClosedAt,
				ReopenedAt:       now,
			})
			return err
		})
	})
	err = conflict(date, OpReopen, err)
	s.observe(OpReopen, date, in.ActorID, err)
	if err != nil {
		return DailyRecord{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionDayReopened,
		Entity:   shared.AuditEntityDailyRecord,
		EntityID: date.Format(shared.DateLayout),
		Meta:     map[string]any{"reason": reason, "reopen_count": reopened.ReopenCount},
	})
	return reopened, nil
}

// ReopenHistory lists the reopen trail of a day, oldest first.
func (s *Service) ReopenHistory(ctx context.Context, date time.Time) ([]ReopenAudit, error) {
	day, err := s.repo.GetDay(ctx, shared.NormalizeBusinessDate(date))
	if errors.Is(err, ErrDayNotFound) {
		return []ReopenAudit{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.repo.ListReopenAudits(ctx, day.ID)
}

// ListOpenDaysBefore returns days still Open whose date is before cutoff.
func (s *Service) ListOpenDaysBefore(ctx context.Context, cutoff time.Time) ([]DailyRecord, error) {
	return s.repo.ListOpenDaysBefore(ctx, cutoff)
}

func (s *Service) mutate(ctx context.Context, date time.Time, op string, fn func(context.Context, TxRepository, DailyRecord) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		day, err := tx.LockDay(ctx, date, LockShare)
		if errors.Is(err, ErrDayNotFound) {
			return violation(date, DayStateNotStarted, op, "day has not been opened")
		}
		if err != nil {
			return err
		}
		if day.State != DayStateOpen {
			return violation(date, day.State, op, "day is closed")
		}
		return fn(ctx, tx, day)
	})
}

// readableDay loads a day that can answer a summary read.
func (s *Service) readableDay(ctx context.Context, date time.Time) (DailyRecord, error) {
	day, err := s.repo.GetDay(ctx, date)
	if errors.Is(err, ErrDayNotFound) {
		return DailyRecord{}, violation(date, DayStateNotStarted, OpPreview, "day has not been opened")
	}
	if err != nil {
		return DailyRecord{}, err
	}
	if day.State == DayStateClosed && day.Summary == nil {
		return DailyRecord{}, fmt.Errorf("dayclose: closed day %s has no frozen summary", date.Format(shared.DateLayout))
	}
	return day, nil
}

func (s *Service) withTransitionLock(ctx context.Context, date time.Time, op string, fn func() error) error {
	release, err := s.locker.Acquire(ctx, shared.DayLockKey(date), s.lockTTL)
	if errors.Is(err, shared.ErrLockHeld) {
		return &ConcurrentTransitionError{Date: date, Operation: op, Reason: "another transition is in progress"}
	}
	if err != nil {
		return fmt.Errorf("dayclose: acquire day lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release day lock", slog.String("date", date.Format(shared.DateLayout)), slog.Any("error", err))
		}
	}()
	return fn()
}

func (s *Service) loadCatalog(ctx context.Context) (DayInputs, error) {
	var in DayInputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in.Ingredients, err = s.catalog.TrackedIngredients(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		in.Variants, err = s.catalog.ActiveVariants(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		in.Recipes, err = s.catalog.Recipes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return DayInputs{}, fmt.Errorf("dayclose: load catalog: %w", err)
	}
	return in, nil
}

func (s *Service) loadInputs(ctx context.Context, dayID int64) (DayInputs, error) {
	var (
		ref       DayInputs
		movements []ledger.Movement
		sales     []reconcile.RecordedSale
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ref, err = s.loadCatalog(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		movements, err = s.repo.ListMovements(gctx, dayID)
		return err
	})
	g.Go(func() error {
		var err error
		sales, err = s.repo.ListSales(gctx, dayID)
		return err
	})
	if err := g.Wait(); err != nil {
		return DayInputs{}, err
	}
	ref.Movements = movements
	ref.Sales = sales
	return ref, nil
}

func (s *Service) trackedIngredient(ctx context.Context, id int64) (ledger.Ingredient, error) {
	tracked, err := s.catalog.TrackedIngredients(ctx)
	if err != nil {
		return ledger.Ingredient{}, fmt.Errorf("dayclose: load ingredients: %w", err)
	}
	for _, ing := range tracked {
		if ing.ID == id {
			return ing, nil
		}
	}
	return ledger.Ingredient{}, fmt.Errorf("%w: %d", ErrUnknownIngredient, id)
}

func (s *Service) claim(ctx context.Context, kind, ref string) (string, error) {
	if ref == "" || s.idempotency == nil {
		return "", nil
	}
	key := fmt.Sprintf("%s:%s:%s", idempotencyModule, kind, ref)
	if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateRequest, ref)
		}
		return "", err
	}
	return key, nil
}

func (s *Service) unclaim(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("idempotency release failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, date time.Time, actorID int64, err error) {
	s.metrics.ObserveTransition(op, err)
	attrs := []any{
		slog.String("transition", op),
		slog.String("date", date.Format(shared.DateLayout)),
		slog.Int64("actor_id", actorID),
	}
	switch {
	case err == nil:
		s.logger.Info("day transition", attrs...)
	case errors.Is(err, ErrConcurrentTransition), errors.Is(err, ErrLifecycleViolation), errors.Is(err, ErrInvalidInput):
		s.logger.Warn("day transition rejected", append(attrs, slog.Any("error", err))...)
	default:
		s.logger.Error("day transition failed", append(attrs, slog.Any("error", err))...)
	}
}

// conflict types a bare ErrConcurrentTransition coming from storage.
func conflict(date time.Time, op string, err error) error {
	if err == nil || !errors.Is(err, ErrConcurrentTransition) {
		return err
	}
	var typed *ConcurrentTransitionError
	if errors.As(err, &typed) {
		return err
	}
	reason := strings.TrimPrefix(err.Error(), ErrConcurrentTransition.Error())
	return &ConcurrentTransitionError{Date: date, Operation: op, Reason: strings.TrimPrefix(reason, ": ")}
}
