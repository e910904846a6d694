package dayclose

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/discrepancy"
	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/recipes"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

const actor int64 = 42

var (
	businessDate = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	meat         = ledger.Ingredient{ID: 1, Name: "Meat", Kind: ledger.UnitKindWeight, Unit: "kg"}
	bread        = ledger.Ingredient{ID: 2, Name: "Bread", Kind: ledger.UnitKindCount, Unit: "pcs"}
	onion        = ledger.Ingredient{ID: 3, Name: "Onion", Kind: ledger.UnitKindCount, Unit: "pcs"}
	kebabLarge   = recipes.Variant{ID: 10, ProductName: "Kebab", Name: "Large", Price: d("28.00"), Active: true}
)

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	catalog   *memoryCatalog
	audit     *memoryAudit
	staffing  *staticStaffing
	metrics   *Metrics
	clockTime time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryRepo(),
		catalog: &memoryCatalog{
			ingredients: []ledger.Ingredient{meat, bread},
			variants:    []recipes.Variant{kebabLarge},
			recipes: []recipes.Recipe{{ID: 100, VariantID: kebabLarge.ID, Lines: []recipes.Line{
				{IngredientID: meat.ID, QuantityPerUnit: d("0.15"), Primary: true},
				{IngredientID: bread.ID, QuantityPerUnit: d("1")},
			}}},
		},
		audit:     &memoryAudit{},
		staffing:  &staticStaffing{staffed: true},
		clockTime: time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC),
	}
	f.metrics = NewMetrics(prometheus.NewRegistry())
	f.svc = NewService(Deps{
		Repo:        f.repo,
		Catalog:     f.catalog,
		Staffing:    f.staffing,
		Audit:       f.audit,
		Idempotency: &memoryIdempotency{},
		Metrics:     f.metrics,
	}, ServiceConfig{LockTTL: time.Minute})
	f.svc.WithNow(func() time.Time { return f.clockTime })
	return f
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func (f *fixture) open(t *testing.T) DailyRecord {
	t.Helper()
	rec, err := f.svc.OpenDay(context.Background(), OpenDayInput{
		Date:    businessDate,
		ActorID: actor,
		Openings: []CountLine{
			{IngredientID: meat.ID, Quantity: d("10")},
			{IngredientID: bread.ID, Quantity: d("50")},
		},
	})
	require.NoError(t, err)
	return rec
}

// prepare loads the reference day: 2.5 kg of meat used, 15 kebabs recorded.
func (f *fixture) prepare(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.open(t)
	_, err := f.svc.RecordDelivery(ctx, DeliveryInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("5"), UnitCost: decimal.NewNullDecimal(d("9.5"))})
	require.NoError(t, err)
	_, err = f.svc.RecordSpoilage(ctx, SpoilageInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("0.5"), Reason: ledger.SpoilageExpired})
	require.NoError(t, err)
	_, err = f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("10")})
	require.NoError(t, err)
	_, err = f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("5")})
	require.NoError(t, err)
	_, err = f.svc.RecordClosingCount(ctx, CountInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("12")})
	require.NoError(t, err)
	_, err = f.svc.RecordClosingCount(ctx, CountInput{Date: businessDate, ActorID: actor, IngredientID: bread.ID, Quantity: d("33")})
	require.NoError(t, err)
}

func TestGetDayNotStarted(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.GetDay(context.Background(), businessDate.Add(15*time.Hour))
	require.NoError(t, err)
	require.Equal(t, DayStateNotStarted, rec.State)
	require.Equal(t, businessDate, rec.Date)
}

func TestOpenDayRequiresEveryOpeningCount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.OpenDay(context.Background(), OpenDayInput{
		Date:     businessDate,
		ActorID:  actor,
		Openings: []CountLine{{IngredientID: meat.ID, Quantity: d("10")}},
	})
	require.ErrorIs(t, err, ErrLifecycleViolation)
	var incomplete *ledger.IncompleteDataError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, []string{"Bread"}, incomplete.Names())

	rec, err := f.svc.GetDay(context.Background(), businessDate)
	require.NoError(t, err)
	require.Equal(t, DayStateNotStarted, rec.State)
}

func TestOpenDayTwiceIsViolation(t *testing.T) {
	f := newFixture(t)
	rec := f.open(t)
	require.Equal(t, DayStateOpen, rec.State)
	require.EqualValues(t, 1, rec.Version)

	_, err := f.svc.OpenDay(context.Background(), OpenDayInput{
		Date:    businessDate,
		ActorID: actor,
		Openings: []CountLine{
			{IngredientID: meat.ID, Quantity: d("1")},
			{IngredientID: bread.ID, Quantity: d("1")},
		},
	})
	var violation *LifecycleViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, DayStateOpen, violation.State)
}

func TestMutationsRequireOpenDay(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordSale(context.Background(), RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("1")})
	var violation *LifecycleViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, DayStateNotStarted, violation.State)
	require.Equal(t, OpRecordSale, violation.Operation)

	_, err = f.svc.Preview(context.Background(), businessDate)
	require.ErrorIs(t, err, ErrLifecycleViolation)
}

func TestPreviewComputesLiveSummary(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)

	summary, err := f.svc.Preview(context.Background(), businessDate)
	require.NoError(t, err)
	require.Equal(t, SummaryLive, summary.Source)

	row, ok := summary.UsageRow(meat.ID)
	require.True(t, ok)
	require.True(t, d("2.5").Equal(row.Usage.Decimal))
	require.True(t, d("14.5").Equal(row.ExpectedClosing.Decimal))

	require.Len(t, summary.CalculatedSales.Sales, 1)
	require.True(t, d("17").Equal(summary.CalculatedSales.Sales[0].Quantity))

	report := summary.Reconciliation
	require.Len(t, report.Suggestions, 1)
	require.True(t, d("2").Equal(report.Suggestions[0].SuggestedQty))
	require.True(t, d("56").Equal(report.Discrepancy))

	var meatFlag ledger.Flag
	for _, flag := range summary.LedgerFlags {
		if flag.IngredientID == meat.ID {
			meatFlag = flag
		}
	}
	require.Equal(t, discrepancy.SeverityCritical, meatFlag.Result.Severity)

	usage, err := f.svc.ComputeUsage(context.Background(), meat.ID, businessDate)
	require.NoError(t, err)
	require.True(t, d("2.5").Equal(usage.Usage.Decimal))

	_, err = f.svc.ComputeUsage(context.Background(), onion.ID, businessDate)
	require.ErrorIs(t, err, ErrUnknownIngredient)
}

func TestReconcileIsRepeatable(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	first, err := f.svc.Reconcile(context.Background(), businessDate)
	require.NoError(t, err)
	second, err := f.svc.Reconcile(context.Background(), businessDate)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCloseDayFreezesSummary(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	ctx := context.Background()

	closed, err := f.svc.CloseDay(ctx, CloseDayInput{Date: businessDate, ActorID: actor, Notes: "busy saturday"})
	require.NoError(t, err)
	require.Equal(t, DayStateClosed, closed.State)
	require.EqualValues(t, 2, closed.Version)
	require.NotNil(t, closed.ClosedAt)
	require.True(t, d("420").Equal(closed.RecordedRevenue.Decimal))
	require.True(t, d("476").Equal(closed.CalculatedRevenue.Decimal))
	require.True(t, d("56").Equal(closed.Discrepancy.Decimal))
	require.Equal(t, SummaryFrozen, closed.Summary.Source)
	require.Equal(t, actor, closed.Summary.ComputedBy)

	_, err = f.svc.RecordDelivery(ctx, DeliveryInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("1")})
	var violation *LifecycleViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, DayStateClosed, violation.State)

	preview, err := f.svc.Preview(ctx, businessDate)
	require.NoError(t, err)
	require.Equal(t, SummaryFrozen, preview.Source)

	row, err := f.svc.ComputeUsage(ctx, meat.ID, businessDate)
	require.NoError(t, err)
	require.True(t, d("2.5").Equal(row.Usage.Decimal))

	require.Contains(t, f.audit.actions(), "day.closed")
	require.Equal(t, 1.0, counterValue(t, f.metrics.transitions, OpClose, "success"))
	require.Equal(t, 1.0, counterValue(t, f.metrics.severities, string(discrepancy.SeverityCritical)))
}

func TestCloseDayFreezesWritesCommittedWhileAwaitingLock(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	ctx := context.Background()
	dayID := f.repo.day(businessDate).ID

	f.repo.onExclusiveLock = func(st *memoryState) {
		st.nextID++
		st.sales[st.nextID] = reconcile.RecordedSale{ID: st.nextID, DayID: dayID, VariantID: kebabLarge.ID, Quantity: d("2"), UnitPrice: d("28.00"), RecordedBy: actor, RecordedAt: f.clockTime}
		st.nextID++
		st.movements[st.nextID] = ledger.Movement{ID: st.nextID, DayID: dayID, IngredientID: meat.ID, Type: ledger.MovementDelivery, Quantity: d("1"), RecordedBy: actor, RecordedAt: f.clockTime}
	}

	closed, err := f.svc.CloseDay(ctx, CloseDayInput{Date: businessDate, ActorID: actor})
	require.NoError(t, err)
	require.Nil(t, f.repo.onExclusiveLock)
	require.True(t, d("476").Equal(closed.RecordedRevenue.Decimal))
	require.True(t, d("476").Equal(closed.Summary.Reconciliation.RecordedTotal))

	row, ok := closed.Summary.UsageRow(meat.ID)
	require.True(t, ok)
	require.True(t, d("6").Equal(row.Deliveries))
	require.True(t, d("3.5").Equal(row.Usage.Decimal))

	sales, err := f.repo.ListSales(ctx, dayID)
	require.NoError(t, err)
	require.Len(t, sales, 3)
}

func TestCloseDayMissingCountIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	before := f.repo.day(businessDate)

	// Onion starts being tracked after the day was opened.
	f.catalog.ingredients = append(f.catalog.ingredients, onion)

	_, err := f.svc.CloseDay(context.Background(), CloseDayInput{Date: businessDate, ActorID: actor})
	require.ErrorIs(t, err, ledger.ErrIncompleteData)
	require.ErrorIs(t, err, ErrLifecycleViolation)
	var incomplete *ledger.IncompleteDataError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, []string{"Onion"}, incomplete.Names())

	after := f.repo.day(businessDate)
	require.Equal(t, before, after)
	require.Nil(t, after.Summary)
	require.False(t, after.RecordedRevenue.Valid)
}

func TestCloseDayRequiresConfirmedShift(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	f.staffing.staffed = false
	before := f.repo.day(businessDate)

	_, err := f.svc.CloseDay(context.Background(), CloseDayInput{Date: businessDate, ActorID: actor})
	var violation *LifecycleViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "no confirmed shift", violation.Reason)
	require.Equal(t, before, f.repo.day(businessDate))
	require.Equal(t, 1.0, counterValue(t, f.metrics.transitions, OpClose, "rejected"))
}

func TestCloseDayInvalidRecipeKeepsPreviewAvailable(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	f.catalog.recipes[0].Lines[0].Primary = false

	summary, err := f.svc.Preview(context.Background(), businessDate)
	require.NoError(t, err)
	require.Empty(t, summary.CalculatedSales.Sales)
	require.Equal(t, recipes.EstimateInvalidRecipe, summary.CalculatedSales.Unresolved[0].Status)

	_, err = f.svc.CloseDay(context.Background(), CloseDayInput{Date: businessDate, ActorID: actor})
	require.ErrorIs(t, err, recipes.ErrInvalidRecipe)
	require.Equal(t, DayStateOpen, f.repo.day(businessDate).State)
}

func TestConcurrentCloseOneWins(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)

	const callers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.CloseDay(context.Background(), CloseDayInput{Date: businessDate, ActorID: actor})
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, ErrConcurrentTransition)
		var conflictErr *ConcurrentTransitionError
		require.True(t, errors.As(err, &conflictErr))
	}
	require.Equal(t, 1, successes)

	day := f.repo.day(businessDate)
	require.Equal(t, DayStateClosed, day.State)
	require.EqualValues(t, 2, day.Version)
	require.NotNil(t, day.Summary)
}

func TestCloseDayExpectedVersion(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	_, err := f.svc.CloseDay(context.Background(), CloseDayInput{Date: businessDate, ActorID: actor, ExpectedVersion: 7})
	var conflictErr *ConcurrentTransitionError
	require.ErrorAs(t, err, &conflictErr)
	require.EqualValues(t, 1, conflictErr.Version)
	require.Equal(t, DayStateOpen, f.repo.day(businessDate).State)
}

func TestReopenDay(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	ctx := context.Background()

	_, err := f.svc.ReopenDay(ctx, ReopenDayInput{Date: businessDate, ActorID: actor, Reason: "x"})
	require.ErrorIs(t, err, ErrLifecycleViolation)

	first, err := f.svc.CloseDay(ctx, CloseDayInput{Date: businessDate, ActorID: actor})
	require.NoError(t, err)

	_, err = f.svc.ReopenDay(ctx, ReopenDayInput{Date: businessDate, ActorID: actor, Reason: "   "})
	var violation *LifecycleViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "reason required", violation.Reason)

	f.clockTime = f.clockTime.Add(time.Hour)
	reopened, err := f.svc.ReopenDay(ctx, ReopenDayInput{Date: businessDate, ActorID: 7, Reason: "miscounted bread"})
	require.NoError(t, err)
	require.Equal(t, DayStateOpen, reopened.State)
	require.Equal(t, 1, reopened.ReopenCount)
	require.NotNil(t, reopened.Summary)
	require.True(t, first.Summary.Reconciliation.Discrepancy.Equal(reopened.Summary.Reconciliation.Discrepancy))

	history, err := f.svc.ReopenHistory(ctx, businessDate)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "miscounted bread", history[0].Reason)
	require.Equal(t, int64(7), history[0].ActorID)
	require.Equal(t, first.ClosedAt, history[0].PreviousClosedAt)

	preview, err := f.svc.Preview(ctx, businessDate)
	require.NoError(t, err)
	require.Equal(t, SummaryLive, preview.Source)

	_, err = f.svc.RecordClosingCount(ctx, CountInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("11")})
	require.NoError(t, err)
	second, err := f.svc.CloseDay(ctx, CloseDayInput{Date: businessDate, ActorID: actor})
	require.NoError(t, err)
	row, ok := second.Summary.UsageRow(meat.ID)
	require.True(t, ok)
	require.True(t, d("3.5").Equal(row.Usage.Decimal))
	require.EqualValues(t, 4, second.Version)

	require.Equal(t, []string{"day.opened", "day.closed", "day.reopened", "day.closed"}, filterDay(f.audit.actions()))
}

func filterDay(actions []string) []string {
	var out []string
	for _, a := range actions {
		if len(a) > 4 && a[:4] == "day." {
			out = append(out, a)
		}
	}
	return out
}

func TestVoidSaleExcludedButRetrievable(t *testing.T) {
	f := newFixture(t)
	f.prepare(t)
	ctx := context.Background()

	extra, err := f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("3"), UnitPrice: decimal.NewNullDecimal(d("25"))})
	require.NoError(t, err)
	require.True(t, d("25").Equal(extra.UnitPrice))

	withExtra, err := f.svc.Reconcile(ctx, businessDate)
	require.NoError(t, err)
	require.True(t, d("495").Equal(withExtra.RecordedTotal))

	voided, err := f.svc.VoidSale(ctx, VoidSaleInput{Date: businessDate, ActorID: actor, SaleID: extra.ID, Reason: "duplicate", Notes: "entered twice"})
	require.NoError(t, err)
	require.True(t, voided.Voided())

	report, err := f.svc.Reconcile(ctx, businessDate)
	require.NoError(t, err)
	require.True(t, d("420").Equal(report.RecordedTotal))
	require.Equal(t, 1, report.VoidedExcluded)

	got, err := f.svc.GetSale(ctx, businessDate, extra.ID)
	require.NoError(t, err)
	require.NotNil(t, got.VoidedAt)
	require.Equal(t, "duplicate", got.VoidReason)
	require.Equal(t, "entered twice", got.VoidNotes)
	require.Equal(t, actor, *got.VoidedBy)

	_, err = f.svc.VoidSale(ctx, VoidSaleInput{Date: businessDate, ActorID: actor, SaleID: extra.ID, Reason: "again"})
	require.ErrorIs(t, err, ErrLifecycleViolation)

	_, err = f.svc.GetSale(ctx, businessDate.AddDate(0, 0, 1), extra.ID)
	require.ErrorIs(t, err, ErrSaleNotFound)
}

func TestRecordSaleClientRefIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	ctx := context.Background()
	ref := uuid.NewString()

	_, err := f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("1"), ClientRef: ref})
	require.NoError(t, err)
	_, err = f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("1"), ClientRef: ref})
	require.ErrorIs(t, err, ErrDuplicateRequest)

	sales, err := f.repo.ListSales(ctx, f.repo.day(businessDate).ID)
	require.NoError(t, err)
	require.Len(t, sales, 1)

	_, err = f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("1"), ClientRef: "not-a-uuid"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: 999, Quantity: d("1")})
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestRecordSaleReleasesClientRefOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := uuid.NewString()

	_, err := f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("1"), ClientRef: ref})
	require.ErrorIs(t, err, ErrLifecycleViolation)

	f.open(t)
	_, err = f.svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("1"), ClientRef: ref})
	require.NoError(t, err)
}

func TestRecordSaleLogsFailedClientRefRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var buf bytes.Buffer
	idem := &memoryIdempotency{deleteErr: errors.New("connection reset")}
	svc := NewService(Deps{
		Repo:        f.repo,
		Catalog:     f.catalog,
		Staffing:    f.staffing,
		Idempotency: idem,
		Metrics:     f.metrics,
		Logger:      slog.New(slog.NewJSONHandler(&buf, nil)),
	}, ServiceConfig{LockTTL: time.Minute})
	ref := uuid.NewString()

	_, err := svc.RecordSale(ctx, RecordSaleInput{Date: businessDate, ActorID: actor, VariantID: kebabLarge.ID, Quantity: d("1"), ClientRef: ref})
	require.ErrorIs(t, err, ErrLifecycleViolation)
	require.Contains(t, buf.String(), "idempotency release failed")
	require.Contains(t, buf.String(), "connection reset")
	require.Contains(t, buf.String(), ref)
}

func TestMovementsValidateAndVoid(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	ctx := context.Background()

	_, err := f.svc.RecordSpoilage(ctx, SpoilageInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("1"), Reason: "ROTTEN"})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.ErrorIs(t, err, ledger.ErrInvalidSpoilageReason)

	_, err = f.svc.RecordDelivery(ctx, DeliveryInput{Date: businessDate, ActorID: actor, IngredientID: onion.ID, Quantity: d("1")})
	require.ErrorIs(t, err, ErrUnknownIngredient)

	transfer, err := f.svc.RecordTransfer(ctx, TransferInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("2"), Source: ledger.LocationStorage, Destination: ledger.LocationActive})
	require.NoError(t, err)

	row, err := f.svc.ComputeUsage(ctx, meat.ID, businessDate)
	require.NoError(t, err)
	require.True(t, d("12").Equal(row.ExpectedClosing.Decimal))

	voided, err := f.svc.VoidMovement(ctx, VoidMovementInput{Date: businessDate, ActorID: actor, MovementID: transfer.ID, Reason: "wrong ingredient"})
	require.NoError(t, err)
	require.True(t, voided.Voided())

	row, err = f.svc.ComputeUsage(ctx, meat.ID, businessDate)
	require.NoError(t, err)
	require.True(t, d("10").Equal(row.ExpectedClosing.Decimal))
	require.False(t, row.Usage.Valid)

	_, err = f.svc.VoidMovement(ctx, VoidMovementInput{Date: businessDate, ActorID: actor, MovementID: transfer.ID, Reason: "again"})
	require.ErrorIs(t, err, ErrLifecycleViolation)

	movements, err := f.repo.ListMovements(ctx, f.repo.day(businessDate).ID)
	require.NoError(t, err)
	var opening ledger.Movement
	for _, mv := range movements {
		if mv.Type == ledger.MovementOpening && mv.IngredientID == meat.ID {
			opening = mv
		}
	}
	_, err = f.svc.VoidMovement(ctx, VoidMovementInput{Date: businessDate, ActorID: actor, MovementID: opening.ID, Reason: "typo"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.SetOpeningCount(ctx, CountInput{Date: businessDate, ActorID: actor, IngredientID: meat.ID, Quantity: d("9")})
	require.NoError(t, err)
	row, err = f.svc.ComputeUsage(ctx, meat.ID, businessDate)
	require.NoError(t, err)
	require.True(t, d("9").Equal(row.Opening.Decimal))
}

func TestListOpenDaysBefore(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	days, err := f.svc.ListOpenDaysBefore(context.Background(), businessDate.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, days, 1)
	days, err = f.svc.ListOpenDaysBefore(context.Background(), businessDate)
	require.NoError(t, err)
	require.Empty(t, days)
}

func TestBuildSummaryRejectsDuplicateSnapshot(t *testing.T) {
	summary, err := BuildSummary(businessDate, DayInputs{
		Ingredients: []ledger.Ingredient{meat},
		Variants:    []recipes.Variant{kebabLarge},
		Movements: []ledger.Movement{
			{IngredientID: meat.ID, Type: ledger.MovementOpening, Quantity: d("1")},
			{IngredientID: meat.ID, Type: ledger.MovementOpening, Quantity: d("2")},
		},
		Sales: []reconcile.RecordedSale{},
	}, SummaryLive, time.Now())
	require.ErrorIs(t, err, ledger.ErrDuplicateSnapshot)
	require.Empty(t, summary.Usage)
}
