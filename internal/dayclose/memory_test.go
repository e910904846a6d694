package dayclose

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/recipes"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryState struct {
	nextID    int64
	days      map[string]DailyRecord
	movements map[int64]ledger.Movement
	sales     map[int64]reconcile.RecordedSale
	reopens   []ReopenAudit
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		nextID:    s.nextID,
		days:      make(map[string]DailyRecord, len(s.days)),
		movements: make(map[int64]ledger.Movement, len(s.movements)),
		sales:     make(map[int64]reconcile.RecordedSale, len(s.sales)),
		reopens:   append([]ReopenAudit(nil), s.reopens...),
	}
	for k, v := range s.days {
		out.days[k] = v
	}
	for k, v := range s.movements {
		out.movements[k] = v
	}
	for k, v := range s.sales {
		out.sales[k] = v
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
	// onExclusiveLock runs once against committed state while a transaction
	// waits for LockDay(LockExclusive), standing in for a writer that commits
	// in that window.
	onExclusiveLock func(*memoryState)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		days:      map[string]DailyRecord{},
		movements: map[int64]ledger.Movement{},
		sales:     map[int64]reconcile.RecordedSale{},
	}}
}

// WithTx pins the snapshot when the transaction starts.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.run(ctx, false, fn)
}

// WithTransitionTx re-reads committed state once the exclusive day lock is held.
func (r *memoryRepo) WithTransitionTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.run(ctx, true, fn)
}

func (r *memoryRepo) run(ctx context.Context, readCommitted bool, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, state: r.state.clone(), readCommitted: readCommitted}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *memoryRepo) GetDay(_ context.Context, date time.Time) (DailyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day, ok := r.state.days[date.Format(shared.DateLayout)]
	if !ok {
		return DailyRecord{}, ErrDayNotFound
	}
	return day, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, dayID int64) ([]ledger.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.listMovements(dayID), nil
}

func (r *memoryRepo) ListSales(_ context.Context, dayID int64) ([]reconcile.RecordedSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.listSales(dayID), nil
}

func (r *memoryRepo) GetSale(_ context.Context, id int64) (reconcile.RecordedSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sale, ok := r.state.sales[id]
	if !ok {
		return reconcile.RecordedSale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (r *memoryRepo) ListReopenAudits(_ context.Context, dayID int64) ([]ReopenAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []ReopenAudit{}
	for _, a := range r.state.reopens {
		if a.DayID == dayID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListOpenDaysBefore(_ context.Context, cutoff time.Time) ([]DailyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DailyRecord
	for _, day := range r.state.days {
		if day.State == DayStateOpen && day.Date.Before(cutoff) {
			out = append(out, day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *memoryRepo) day(date time.Time) DailyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.days[date.Format(shared.DateLayout)]
}

func (s *memoryState) listMovements(dayID int64) []ledger.Movement {
	var out []ledger.Movement
	for _, mv := range s.movements {
		if mv.DayID == dayID {
			out = append(out, mv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryState) listSales(dayID int64) []reconcile.RecordedSale {
	var out []reconcile.RecordedSale
	for _, sale := range s.sales {
		if sale.DayID == dayID {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryTx struct {
	repo          *memoryRepo
	state         memoryState
	readCommitted bool
}

func (t *memoryTx) id() int64 {
	t.state.nextID++
	return t.state.nextID
}

func (t *memoryTx) LockDay(_ context.Context, date time.Time, mode LockMode) (DailyRecord, error) {
	if mode == LockExclusive {
		if hook := t.repo.onExclusiveLock; hook != nil {
			t.repo.onExclusiveLock = nil
			hook(&t.repo.state)
		}
		if t.readCommitted {
			t.state = t.repo.state.clone()
		}
	}
	day, ok := t.state.days[date.Format(shared.DateLayout)]
	if !ok {
		return DailyRecord{}, ErrDayNotFound
	}
	return day, nil
}

func (t *memoryTx) InsertDay(_ context.Context, rec DailyRecord) (DailyRecord, error) {
	key := rec.Date.Format(shared.DateLayout)
	if _, ok := t.state.days[key]; ok {
		return DailyRecord{}, fmt.Errorf("%w: day exists", ErrConcurrentTransition)
	}
	rec.ID = t.id()
	rec.CreatedAt = *rec.OpenedAt
	rec.UpdatedAt = *rec.OpenedAt
	t.state.days[key] = rec
	return rec, nil
}

func (t *memoryTx) UpsertCount(_ context.Context, mv ledger.Movement) (ledger.Movement, error) {
	for id, existing := range t.state.movements {
		if existing.DayID == mv.DayID && existing.IngredientID == mv.IngredientID && existing.Type == mv.Type {
			existing.Quantity = mv.Quantity
			existing.RecordedBy = mv.RecordedBy
			existing.RecordedAt = mv.RecordedAt
			t.state.movements[id] = existing
			return existing, nil
		}
	}
	mv.ID = t.id()
	t.state.movements[mv.ID] = mv
	return mv, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, mv ledger.Movement) (ledger.Movement, error) {
	mv.ID = t.id()
	t.state.movements[mv.ID] = mv
	return mv, nil
}

func (t *memoryTx) LoadMovement(_ context.Context, id int64) (ledger.Movement, error) {
	mv, ok := t.state.movements[id]
	if !ok {
		return ledger.Movement{}, ErrMovementNotFound
	}
	return mv, nil
}

func (t *memoryTx) VoidMovement(_ context.Context, id int64, v Void) error {
	mv, ok := t.state.movements[id]
	if !ok {
		return ErrMovementNotFound
	}
	mv.VoidedAt, mv.VoidedBy, mv.VoidReason = &v.At, &v.ActorID, v.Reason
	t.state.movements[id] = mv
	return nil
}

func (t *memoryTx) InsertSale(_ context.Context, sale reconcile.RecordedSale) (reconcile.RecordedSale, error) {
	sale.ID = t.id()
	t.state.sales[sale.ID] = sale
	return sale, nil
}

func (t *memoryTx) LoadSale(_ context.Context, id int64) (reconcile.RecordedSale, error) {
	sale, ok := t.state.sales[id]
	if !ok {
		return reconcile.RecordedSale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (t *memoryTx) VoidSale(_ context.Context, id int64, v Void) error {
	sale, ok := t.state.sales[id]
	if !ok {
		return ErrSaleNotFound
	}
	sale.VoidedAt, sale.VoidedBy, sale.VoidReason, sale.VoidNotes = &v.At, &v.ActorID, v.Reason, v.Notes
	t.state.sales[id] = sale
	return nil
}

func (t *memoryTx) ListMovements(_ context.Context, dayID int64) ([]ledger.Movement, error) {
	return t.state.listMovements(dayID), nil
}

func (t *memoryTx) ListSales(_ context.Context, dayID int64) ([]reconcile.RecordedSale, error) {
	return t.state.listSales(dayID), nil
}

func (t *memoryTx) dayByID(id int64) (string, DailyRecord, bool) {
	for key, day := range t.state.days {
		if day.ID == id {
			return key, day, true
		}
	}
	return "", DailyRecord{}, false
}

func (t *memoryTx) FreezeDay(_ context.Context, p FreezeParams) (DailyRecord, error) {
	key, day, ok := t.dayByID(p.DayID)
	if !ok {
		return DailyRecord{}, ErrDayNotFound
	}
	if day.Version != p.ExpectedVersion || day.State != DayStateOpen {
		return DailyRecord{}, fmt.Errorf("%w: version changed", ErrConcurrentTransition)
	}
	summary := p.Summary
	closedAt, closedBy := p.ClosedAt, p.ClosedBy
	day.State = DayStateClosed
	day.Version++
	day.ClosedAt, day.ClosedBy = &closedAt, &closedBy
	day.Summary = &summary
	day.RecordedRevenue = decimal.NewNullDecimal(summary.Reconciliation.RecordedTotal)
	day.CalculatedRevenue = decimal.NewNullDecimal(summary.Reconciliation.CalculatedTotal)
	day.Discrepancy = decimal.NewNullDecimal(summary.Reconciliation.Discrepancy)
	if p.Notes != "" {
		day.Notes = p.Notes
	}
	day.UpdatedAt = closedAt
	t.state.days[key] = day
	return day, nil
}

func (t *memoryTx) ReopenDay(_ context.Context, p ReopenParams) (DailyRecord, error) {
	key, day, ok := t.dayByID(p.DayID)
	if !ok {
		return DailyRecord{}, ErrDayNotFound
	}
	if day.Version != p.ExpectedVersion || day.State != DayStateClosed {
		return DailyRecord{}, fmt.Errorf("%w: version changed", ErrConcurrentTransition)
	}
	at := p.At
	day.State = DayStateOpen
	day.Version++
	day.ReopenedAt = &at
	day.ReopenCount++
	day.UpdatedAt = at
	t.state.days[key] = day
	return day, nil
}

func (t *memoryTx) InsertReopenAudit(_ context.Context, a ReopenAudit) (ReopenAudit, error) {
	a.ID = t.id()
	t.state.reopens = append(t.state.reopens, a)
	return a, nil
}

type memoryCatalog struct {
	mu          sync.Mutex
	ingredients []ledger.Ingredient
	variants    []recipes.Variant
	recipes     []recipes.Recipe
}

func (c *memoryCatalog) TrackedIngredients(context.Context) ([]ledger.Ingredient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ledger.Ingredient(nil), c.ingredients...), nil
}

func (c *memoryCatalog) ActiveVariants(context.Context) ([]recipes.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recipes.Variant(nil), c.variants...), nil
}

func (c *memoryCatalog) Recipes(context.Context) ([]recipes.Recipe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recipes.Recipe(nil), c.recipes...), nil
}

func (c *memoryCatalog) Variant(_ context.Context, id int64) (recipes.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.variants {
		if v.ID == id {
			return v, nil
		}
	}
	return recipes.Variant{}, fmt.Errorf("variant %d: %w", id, shared.ErrNotFound)
}

type staticStaffing struct {
	staffed bool
}

func (s staticStaffing) HasConfirmedShift(context.Context, time.Time) (bool, error) {
	return s.staffed, nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type memoryIdempotency struct {
	mu        sync.Mutex
	keys      map[string]struct{}
	deleteErr error
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]struct{}{}
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.keys, key)
	return nil
}
