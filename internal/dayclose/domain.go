package dayclose

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/recipes"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// DayState enumerates the business day lifecycle.
type DayState string

const (
	DayStateNotStarted DayState = "NOT_STARTED"
	DayStateOpen       DayState = "OPEN"
	DayStateClosed     DayState = "CLOSED"
)

// DailyRecord is the lifecycle row of one business date. Summary and the
// revenue totals are written only by the close transition.
type DailyRecord struct {
	ID                int64               `json:"id"`
	Date              time.Time           `json:"date"`
	State             DayState            `json:"state"`
	Version           int64               `json:"version"`
	OpenedAt          *time.Time          `json:"opened_at,omitempty"`
	OpenedBy          *int64              `json:"opened_by,omitempty"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
	ClosedBy          *int64              `json:"closed_by,omitempty"`
	ReopenedAt        *time.Time          `json:"reopened_at,omitempty"`
	ReopenCount       int                 `json:"reopen_count"`
	Notes             string              `json:"notes,omitempty"`
	RecordedRevenue   decimal.NullDecimal `json:"recorded_revenue"`
	CalculatedRevenue decimal.NullDecimal `json:"calculated_revenue"`
	Discrepancy       decimal.NullDecimal `json:"discrepancy"`
	Summary           *DaySummary         `json:"summary,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Reopened reports whether the day has been reopened at least once.
func (d DailyRecord) Reopened() bool {
	return d.ReopenCount > 0
}

// SummarySource distinguishes live previews from the frozen close snapshot.
type SummarySource string

const (
	SummaryLive   SummarySource = "LIVE"
	SummaryFrozen SummarySource = "FROZEN"
)

// DaySummary bundles every derived view of a day.
type DaySummary struct {
	Date            time.Time               `json:"date"`
	Source          SummarySource           `json:"source"`
	Usage           []ledger.UsageRow       `json:"usage"`
	LedgerFlags     []ledger.Flag           `json:"ledger_flags"`
	CalculatedSales recipes.CalculatedSales `json:"calculated_sales"`
	Reconciliation  reconcile.Report        `json:"reconciliation"`
	ComputedAt      time.Time               `json:"computed_at"`
	ComputedBy      int64                   `json:"computed_by,omitempty"`
}

// UsageRow returns the row for one ingredient.
func (s DaySummary) UsageRow(ingredientID int64) (ledger.UsageRow, bool) {
	for _, row := range s.Usage {
		if row.IngredientID == ingredientID {
			return row, true
		}
	}
	return ledger.UsageRow{}, false
}

// ReopenAudit is one entry of the reopen trail.
type ReopenAudit struct {
	ID               int64      `json:"id"`
	DayID            int64      `json:"day_id"`
	ActorID          int64      `json:"actor_id"`
	Reason           string     `json:"reason"`
	PreviousClosedAt *time.Time `json:"previous_closed_at,omitempty"`
	ReopenedAt       time.Time  `json:"reopened_at"`
}

// LockMode selects the row lock strength taken on the day row.
type LockMode int

const (
	// LockShare blocks transitions while a mutation is in flight.
	LockShare LockMode = iota
	// LockExclusive is held by transitions.
	LockExclusive
)

// Void carries void metadata for movements and sales.
type Void struct {
	ActorID int64
	At      time.Time
	Reason  string
	Notes   string
}

// FreezeParams captures the close write.
type FreezeParams struct {
	DayID           int64
	ExpectedVersion int64
	Summary         DaySummary
	ClosedAt        time.Time
	ClosedBy        int64
	Notes           string
}

// ReopenParams captures the reopen write.
type ReopenParams struct {
	DayID           int64
	ExpectedVersion int64
	At              time.Time
	ActorID         int64
}

// CountLine is one ingredient count.
type CountLine struct {
	IngredientID int64
	Quantity     decimal.Decimal
}

// OpenDayInput opens a business day with its opening counts.
type OpenDayInput struct {
	Date     time.Time
	ActorID  int64
	Openings []CountLine
	Notes    string
}

// Validate ensures the input is coherent.
func (in OpenDayInput) Validate() error {
	if err := validateHeader(in.Date, in.ActorID); err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(in.Openings))
	for _, line := range in.Openings {
		if line.IngredientID <= 0 {
			return invalid("ingredient id required")
		}
		if _, dup := seen[line.IngredientID]; dup {
			return invalid("ingredient %d counted twice", line.IngredientID)
		}
		seen[line.IngredientID] = struct{}{}
		if line.Quantity.IsNegative() {
			return invalid("ingredient %d count must be >= 0", line.IngredientID)
		}
	}
	return nil
}

// CountInput records an opening or closing count.
type CountInput struct {
	Date         time.Time
	ActorID      int64
	IngredientID int64
	Quantity     decimal.Decimal
}

// Validate ensures the input is coherent.
func (in CountInput) Validate() error {
	if err := validateHeader(in.Date, in.ActorID); err != nil {
		return err
	}
	if in.IngredientID <= 0 {
		return invalid("ingredient id required")
	}
	if in.Quantity.IsNegative() {
		return invalid("count must be >= 0")
	}
	return nil
}

// DeliveryInput records a supplier delivery.
type DeliveryInput struct {
	Date         time.Time
	ActorID      int64
	IngredientID int64
	Quantity     decimal.Decimal
	UnitCost     decimal.NullDecimal
	Note         string
	ClientRef    string
}

// TransferInput records stock moved between locations.
type TransferInput struct {
	Date         time.Time
	ActorID      int64
	IngredientID int64
	Quantity     decimal.Decimal
	Source       ledger.Location
	Destination  ledger.Location
	Note         string
	ClientRef    string
}

// SpoilageInput records discarded stock.
type SpoilageInput struct {
	Date         time.Time
	ActorID      int64
	IngredientID int64
	Quantity     decimal.Decimal
	Reason       ledger.SpoilageReason
	Note         string
	ClientRef    string
}

// VoidMovementInput voids a delivery, transfer or spoilage.
type VoidMovementInput struct {
	Date       time.Time
	ActorID    int64
	MovementID int64
	Reason     string
}

// Validate ensures the input is coherent.
func (in VoidMovementInput) Validate() error {
	if err := validateHeader(in.Date, in.ActorID); err != nil {
		return err
	}
	if in.MovementID <= 0 {
		return invalid("movement id required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return invalid("void reason required")
	}
	return nil
}

// RecordSaleInput records a manual sale. UnitPrice defaults to the variant's
// current price.
type RecordSaleInput struct {
	Date      time.Time
	ActorID   int64
	VariantID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.NullDecimal
	ClientRef string
}

// Validate ensures the input is coherent.
func (in RecordSaleInput) Validate() error {
	if err := validateHeader(in.Date, in.ActorID); err != nil {
		return err
	}
	if in.VariantID <= 0 {
		return invalid("variant id required")
	}
	if !in.Quantity.IsPositive() {
		return invalid("quantity must be > 0")
	}
	if in.UnitPrice.Valid && in.UnitPrice.Decimal.IsNegative() {
		return invalid("unit price must be >= 0")
	}
	return validateClientRef(in.ClientRef)
}

// VoidSaleInput voids a recorded sale.
type VoidSaleInput struct {
	Date    time.Time
	ActorID int64
	SaleID  int64
	Reason  string
	Notes   string
}

// Validate ensures the input is coherent.
func (in VoidSaleInput) Validate() error {
	if err := validateHeader(in.Date, in.ActorID); err != nil {
		return err
	}
	if in.SaleID <= 0 {
		return invalid("sale id required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return invalid("void reason required")
	}
	return nil
}

// CloseDayInput requests the Open to Closed transition. ExpectedVersion, when
// set, must match the record's version.
type CloseDayInput struct {
	Date            time.Time
	ActorID         int64
	Notes           string
	ExpectedVersion int64
}

// ReopenDayInput requests the Closed to Open transition.
type ReopenDayInput struct {
	Date            time.Time
	ActorID         int64
	Reason          string
	ExpectedVersion int64
}

func validateHeader(date time.Time, actorID int64) error {
	if date.IsZero() {
		return invalid("date required")
	}
	if actorID <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, shared.ErrActorRequired)
	}
	return nil
}

func validateClientRef(ref string) error {
	if ref == "" {
		return nil
	}
	if _, err := uuid.Parse(ref); err != nil {
		return invalid("client ref must be a uuid")
	}
	return nil
}
