// Package merge combines per-file feature collections into one.
package merge

import (
	"errors"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

// ErrEmptyMergeInput is returned when there is nothing to merge. A single
// collection with zero features is not an error.
var ErrEmptyMergeInput = errors.New("empty merge input")

// UnifiedSource is the source name of a merged collection.
const UnifiedSource = "merged"

// Merge concatenates the features of cols in argument order. Warnings and
// issues are concatenated the same way; warnings are prefixed with the name of
// the collection they came from. Nil collections are skipped, and if none
// remains Merge returns ErrEmptyMergeInput.
func Merge(cols ...*geo.FeatureCollection) (*geo.FeatureCollection, error) {
	total, present := 0, 0
	for _, c := range cols {
		if c != nil {
			total += len(c.Features)
			present++
		}
	}
	if present == 0 {
		return nil, ErrEmptyMergeInput
	}

	out := geo.NewCollection(UnifiedSource)
	out.Features = make([]*geo.Feature, 0, total)
	for _, c := range cols {
		if c == nil {
			continue
		}
		for _, f := range c.Features {
			if f.Source == "" {
				f.Source = c.Source
			}
			out.Features = append(out.Features, f)
		}
		for _, w := range c.Warnings {
			out.Warnings = append(out.Warnings, c.Source+": "+w)
		}
		out.Issues = append(out.Issues, c.Issues...)
	}
	return out, nil
}
