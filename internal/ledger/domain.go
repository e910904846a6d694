// Package ledger aggregates per-ingredient stock movements into daily usage.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// UnitKind distinguishes continuous quantities from discrete ones.
type UnitKind string

const (
	// UnitKindWeight is a continuous quantity such as kilograms or litres.
	UnitKindWeight UnitKind = "WEIGHT"
	// UnitKindCount is a discrete quantity such as pieces or packs.
	UnitKindCount UnitKind = "COUNT"
)

// Ingredient is a tracked stock item.
type Ingredient struct {
	ID   int64    `json:"id"`
	Name string   `json:"name"`
	Kind UnitKind `json:"kind"`
	Unit string   `json:"unit"`
}

// Location identifies where stock physically sits.
type Location string

const (
	// LocationStorage is bulk storage.
	LocationStorage Location = "STORAGE"
	// LocationActive is the active-use location the ledger tracks.
	LocationActive Location = "ACTIVE"
)

// Valid reports whether the location is known.
func (l Location) Valid() bool {
	return l == LocationStorage || l == LocationActive
}

// MovementType enumerates the kinds of stock movement.
type MovementType string

const (
	MovementOpening  MovementType = "OPENING"
	MovementClosing  MovementType = "CLOSING"
	MovementDelivery MovementType = "DELIVERY"
	MovementTransfer MovementType = "TRANSFER"
	MovementSpoilage MovementType = "SPOILAGE"
)

// Snapshot reports whether the movement type is an opening or closing count.
func (t MovementType) Snapshot() bool {
	return t == MovementOpening || t == MovementClosing
}

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementOpening, MovementClosing, MovementDelivery, MovementTransfer, MovementSpoilage:
		return true
	}
	return false
}

// SpoilageReason is the reason code attached to a spoilage movement.
type SpoilageReason string

const (
	SpoilageExpired   SpoilageReason = "EXPIRED"
	SpoilageDamaged   SpoilageReason = "DAMAGED"
	SpoilagePrepError SpoilageReason = "PREP_ERROR"
	SpoilageReturned  SpoilageReason = "RETURNED"
	SpoilageOther     SpoilageReason = "OTHER"
)

// Valid reports whether the reason code is known.
func (r SpoilageReason) Valid() bool {
	switch r {
	case SpoilageExpired, SpoilageDamaged, SpoilagePrepError, SpoilageReturned, SpoilageOther:
		return true
	}
	return false
}

// Movement is a single recorded change or snapshot of an ingredient's stock.
type Movement struct {
	ID           int64           `json:"id"`
	DayID        int64           `json:"day_id"`
	IngredientID int64           `json:"ingredient_id"`
	Type         MovementType    `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	// UnitCost is only meaningful for deliveries.
	UnitCost       decimal.NullDecimal `json:"unit_cost"`
	Source         Location            `json:"source,omitempty"`
	Destination    Location            `json:"destination,omitempty"`
	SpoilageReason SpoilageReason      `json:"spoilage_reason,omitempty"`
	Note           string              `json:"note,omitempty"`
	ClientRef      string              `json:"client_ref,omitempty"`
	RecordedBy     int64               `json:"recorded_by"`
	RecordedAt     time.Time           `json:"recorded_at"`
	VoidedAt       *time.Time          `json:"voided_at,omitempty"`
	VoidedBy       *int64              `json:"voided_by,omitempty"`
	VoidReason     string              `json:"void_reason,omitempty"`
}

// Voided reports whether the movement has been voided.
func (m Movement) Voided() bool {
	return m.VoidedAt != nil
}

// Validate checks the type-specific invariants of a movement.
func (m Movement) Validate() error {
	if m.IngredientID <= 0 {
		return ErrInvalidIngredient
	}
	if !m.Type.Valid() {
		return ErrInvalidMovementType
	}
	if m.Quantity.IsNegative() {
		return ErrNegativeQuantity
	}
	if !m.Type.Snapshot() && !m.Quantity.IsPositive() {
		return ErrZeroQuantity
	}
	switch m.Type {
	case MovementDelivery:
		if m.UnitCost.Valid && m.UnitCost.Decimal.IsNegative() {
			return ErrInvalidUnitCost
		}
	case MovementTransfer:
		if !m.Source.Valid() || !m.Destination.Valid() {
			return ErrInvalidLocation
		}
		if m.Source == m.Destination {
			return ErrSameLocation
		}
	case MovementSpoilage:
		if !m.SpoilageReason.Valid() {
			return ErrInvalidSpoilageReason
		}
	}
	return nil
}

// UsageRow is the per-ingredient daily aggregation.
type UsageRow struct {
	IngredientID   int64               `json:"ingredient_id"`
	IngredientName string              `json:"ingredient_name"`
	Unit           string              `json:"unit"`
	Opening        decimal.NullDecimal `json:"opening"`
	Deliveries     decimal.Decimal     `json:"deliveries"`
	Transfers      decimal.Decimal     `json:"transfers"`
	Spoilage       decimal.Decimal     `json:"spoilage"`
	Closing        decimal.NullDecimal `json:"closing"`
	// ExpectedClosing is undefined while the opening count is missing.
	ExpectedClosing decimal.NullDecimal `json:"expected_closing"`
	// Usage is undefined unless both counts exist. It may be negative.
	Usage decimal.NullDecimal `json:"usage"`
}

// HasOpening reports whether an opening count was recorded.
func (r UsageRow) HasOpening() bool { return r.Opening.Valid }

// HasClosing reports whether a closing count was recorded.
func (r UsageRow) HasClosing() bool { return r.Closing.Valid }

// Incomplete reports whether usage cannot be derived yet.
func (r UsageRow) Incomplete() bool { return !r.Usage.Valid }

// NegativeUsage reports a closing count above the expected closing, a data-entry
// error signal.
func (r UsageRow) NegativeUsage() bool {
	return r.Usage.Valid && r.Usage.Decimal.IsNegative()
}

var (
	// ErrIncompleteData indicates a required opening or closing count is missing.
	ErrIncompleteData = errors.New("ledger: incomplete data")
	// ErrDuplicateSnapshot indicates more than one live opening or closing count.
	ErrDuplicateSnapshot = errors.New("ledger: duplicate snapshot")
	// ErrInvalidIngredient indicates a missing ingredient reference.
	ErrInvalidIngredient = errors.New("ledger: ingredient required")
	// ErrInvalidMovementType indicates an unknown movement type.
	ErrInvalidMovementType = errors.New("ledger: unknown movement type")
	// ErrNegativeQuantity indicates a negative quantity.
	ErrNegativeQuantity = errors.New("ledger: quantity must be >= 0")
	// ErrZeroQuantity indicates a flow movement without quantity.
	ErrZeroQuantity = errors.New("ledger: quantity must be > 0")
	// ErrInvalidUnitCost indicates a negative delivery cost.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
	// ErrInvalidLocation indicates an unknown transfer location.
	ErrInvalidLocation = errors.New("ledger: unknown location")
	// ErrSameLocation indicates a transfer onto its own source.
	ErrSameLocation = errors.New("ledger: transfer source and destination must differ")
	// ErrInvalidSpoilageReason indicates an unknown spoilage reason code.
	ErrInvalidSpoilageReason = errors.New("ledger: unknown spoilage reason")
)
