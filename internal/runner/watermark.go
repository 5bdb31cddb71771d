package runner

import (
	"fmt"
	"strconv"

	"github.com/datasnap/bridge-go/internal/mapping"
)

// watermarkTracker keeps the running maximum of the watermark column across
// a streamed extraction. Primary key watermarks compare numerically;
// timestamp watermarks compare as strings, which is correct for the
// RFC 3339 values extraction produces.
type watermarkTracker struct {
	mode    string
	column  string
	max     string
	maxNum  float64
	hasSeen bool
}

func newWatermarkTracker(cfg *mapping.Config) *watermarkTracker {
	return &watermarkTracker{
		mode:   cfg.Transfer.IncrementalMode,
		column: cfg.WatermarkColumn(),
	}
}

// observe folds one row's watermark value into the running max. Rows
// missing the column or holding NULL are ignored.
func (w *watermarkTracker) observe(row map[string]any) {
	if w.column == "" {
		return
	}

	v, ok := row[w.column]
	if !ok || v == nil {
		return
	}

	s := stringify(v)

	if w.mode == mapping.ModeIncrementalPK {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return
		}

		if !w.hasSeen || n > w.maxNum {
			w.maxNum = n
			w.max = s
			w.hasSeen = true
		}

		return
	}

	if !w.hasSeen || s > w.max {
		w.max = s
		w.hasSeen = true
	}
}

// value returns the max watermark seen as a string, or "" when no row
// carried one.
func (w *watermarkTracker) value() string {
	if !w.hasSeen {
		return ""
	}

	return w.max
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		// Integral floats render without the trailing .0 so the value
		// substitutes cleanly into the next run's WHERE clause.
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}

		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}
