package report

import (
	"github.com/fyrsmithlabs/recd/internal/batch"
	"github.com/fyrsmithlabs/recd/internal/provider"
)

// Summary counts report rows by outcome.
type Summary struct {
	Rows   int
	Demo   int
	Errors int
	Models map[string]int
}

// Summarize tallies rows. Error rows are not counted as demo rows.
func Summarize(rows []batch.ResultRow) Summary {
	s := Summary{Rows: len(rows), Models: map[string]int{}}
	for _, r := range rows {
		s.Models[r.Model]++
		switch {
		case r.Failed:
			s.Errors++
		case provider.IsDemo(r.Recommendation):
			s.Demo++
		}
	}
	return s
}
