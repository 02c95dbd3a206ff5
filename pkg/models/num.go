package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Num is a monetary amount or ratio that may be absent.
// The zero value is absent; absent is never the same as zero.
type Num struct {
	Value float64
	Valid bool
}

// None is the absent value.
var None = Num{}

// Some returns a present value. NaN and ±Inf are treated as absent.
func Some(v float64) Num {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return None
	}
	return Num{Value: v, Valid: true}
}

// Get returns the value and whether it is present.
func (n Num) Get() (float64, bool) {
	return n.Value, n.Valid
}

// OrZero returns the value, or 0 when absent.
func (n Num) OrZero() float64 {
	if !n.Valid {
		return 0
	}
	return n.Value
}

// Abs returns |n|, keeping absence.
func (n Num) Abs() Num {
	if !n.Valid {
		return None
	}
	return Some(math.Abs(n.Value))
}

// Positive reports whether n is present and strictly greater than zero.
func (n Num) Positive() bool {
	return n.Valid && n.Value > 0
}

func (n Num) String() string {
	if !n.Valid {
		return "null"
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// MarshalJSON encodes an absent value as null.
func (n Num) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON decodes null as absent.
func (n *Num) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = None
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	*n = Some(v)
	return nil
}

// Ptr returns a pointer to the value, or nil when absent.
// Useful for drivers that map nil to SQL NULL.
func (n Num) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}
