package ledger

import (
	"fmt"
	"strings"
)

// MissingCount names one absent snapshot.
type MissingCount struct {
	IngredientID   int64        `json:"ingredient_id"`
	IngredientName string       `json:"ingredient_name"`
	Type           MovementType `json:"type"`
}

// IncompleteDataError lists the counts that block a computation.
type IncompleteDataError struct {
	Missing []MissingCount
}

func (e *IncompleteDataError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		name := m.IngredientName
		if name == "" {
			name = fmt.Sprintf("ingredient %d", m.IngredientID)
		}
		parts = append(parts, fmt.Sprintf("%s count missing for %s", strings.ToLower(string(m.Type)), name))
	}
	return fmt.Sprintf("%s: %s", ErrIncompleteData.Error(), strings.Join(parts, "; "))
}

// Is lets errors.Is match ErrIncompleteData.
func (e *IncompleteDataError) Is(target error) bool {
	return target == ErrIncompleteData
}

// IngredientIDs returns the distinct ingredient ids named by the error.
func (e *IncompleteDataError) IngredientIDs() []int64 {
	seen := make(map[int64]struct{}, len(e.Missing))
	ids := make([]int64, 0, len(e.Missing))
	for _, m := range e.Missing {
		if _, ok := seen[m.IngredientID]; ok {
			continue
		}
		seen[m.IngredientID] = struct{}{}
		ids = append(ids, m.IngredientID)
	}
	return ids
}

// Names returns the distinct ingredient names named by the error.
func (e *IncompleteDataError) Names() []string {
	seen := make(map[string]struct{}, len(e.Missing))
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		if _, ok := seen[m.IngredientName]; ok {
			continue
		}
		seen[m.IngredientName] = struct{}{}
		names = append(names, m.IngredientName)
	}
	return names
}

// RequireComplete returns an IncompleteDataError naming every row without both
// counts, or nil when all rows can produce usage.
func RequireComplete(rows []UsageRow) error {
	var missing []MissingCount
	for _, row := range rows {
		if !row.HasOpening() {
			missing = append(missing, MissingCount{IngredientID: row.IngredientID, IngredientName: row.IngredientName, Type: MovementOpening})
		}
		if !row.HasClosing() {
			missing = append(missing, MissingCount{IngredientID: row.IngredientID, IngredientName: row.IngredientName, Type: MovementClosing})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &IncompleteDataError{Missing: missing}
}
