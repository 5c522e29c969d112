package errors

import (
	"math"
)

// IsFinite reports whether v is neither NaN nor ±Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CheckScalar returns a SerializationError when value is NaN or infinite.
// path names the record the value belongs to.
func CheckScalar(path string, value float64) error {
	if !IsFinite(value) {
		return NewSerializationError(path, "non-finite metric value", value)
	}
	return nil
}

// CheckValues checks every value of a metric mapping and reports the first
// non-finite entry. Keys are checked in the order given by names so the
// reported error is deterministic.
func CheckValues(prefix string, names []string, values map[string]float64) error {
	for _, name := range names {
		if err := CheckScalar(prefix+name, values[name]); err != nil {
			return err
		}
	}
	return nil
}
