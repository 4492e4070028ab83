package botconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is the content of one config address: either a number or a per-band table.
// It marshals to a bare JSON number or a JSON object.
type Value struct {
	Number float64
	Table  *BandTable
}

// Number wraps a scalar value.
func Number(f float64) Value { return Value{Number: f} }

// TableValue wraps a band table.
func TableValue(t BandTable) Value { return Value{Table: &t} }

// IsTable reports whether v holds a band table.
func (v Value) IsTable() bool { return v.Table != nil }

func (v Value) tableOrZero() BandTable {
	if v.Table == nil {
		return BandTable{}
	}
	return *v.Table
}

// Equal compares two values.
func (v Value) Equal(o Value) bool {
	if v.IsTable() != o.IsTable() {
		return false
	}
	if v.IsTable() {
		return *v.Table == *o.Table
	}
	return v.Number == o.Number
}

func (v Value) String() string {
	if v.IsTable() {
		return "{" + v.Table.String() + "}"
	}
	return formatNumber(v.Number)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsTable() {
		return json.Marshal(v.Table)
	}
	if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
		return nil, fmt.Errorf("config value %v is not a finite number", v.Number)
	}
	return json.Marshal(v.Number)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var t BandTable
		if err := json.Unmarshal(trimmed, &t); err != nil {
			return fmt.Errorf("decode band table: %w", err)
		}
		*v = TableValue(t)
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return fmt.Errorf("decode config value: %w", err)
	}
	*v = Number(f)
	return nil
}

// Decode reads the value for p from data relative to base. A band table is
// merged per band: bands the data leaves out keep base's value.
func (p Path) Decode(data []byte, base Config) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("%s: %w", p, err)
	}
	if err := p.Check(v); err != nil {
		return Value{}, err
	}
	if !v.IsTable() {
		return v, nil
	}
	t := p.Get(base).tableOrZero()
	if err := json.Unmarshal(bytes.TrimSpace(data), &t); err != nil {
		return Value{}, fmt.Errorf("%s: decode band table: %w", p, err)
	}
	return TableValue(t), nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
