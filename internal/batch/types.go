package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recd/internal/products"
)

// ErrorMarkerPrefix starts the recommendation text of a failed unit.
const ErrorMarkerPrefix = "ERROR: "

// WorkUnit is one (product, model, iteration) call.
type WorkUnit struct {
	Product   products.Row
	Model     string
	Iteration int
}

// ResultRow is the outcome of one WorkUnit.
type ResultRow struct {
	Product        string    `json:"product"`
	Model          string    `json:"model"`
	Iteration      int       `json:"iteration"`
	Recommendation string    `json:"recommendation"`
	Timestamp      time.Time `json:"timestamp"`
	// Failed is set when the provider call failed and Recommendation holds
	// the error marker. It is not a workbook column.
	Failed bool `json:"failed"`
}

// HasErrorMarker reports whether text starts with ErrorMarkerPrefix. Rows
// read back from a workbook carry only their text, so this is the best
// available signal there.
func HasErrorMarker(text string) bool {
	return strings.HasPrefix(text, ErrorMarkerPrefix)
}

// State counts resolved units for one batch.
type State struct {
	Total     int
	Completed int
}

// Percentage is floor(Completed/Total*100), or 100 for an empty batch.
func (s State) Percentage() int {
	if s.Total == 0 {
		return 100
	}
	return s.Completed * 100 / s.Total
}

// Advance records one resolved unit.
func (s *State) Advance() {
	s.Completed++
}

// Units expands the batch in product, then model, then iteration order.
func Units(rows []products.Row, models []string, iterations int) []WorkUnit {
	if iterations < 1 {
		return nil
	}
	units := make([]WorkUnit, 0, len(rows)*len(models)*iterations)
	for _, row := range rows {
		for _, m := range models {
			for i := 1; i <= iterations; i++ {
				units = append(units, WorkUnit{Product: row, Model: m, Iteration: i})
			}
		}
	}
	return units
}

// InputError rejects a batch before any work starts.
type InputError struct {
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *InputError) Unwrap() error { return e.Err }
