package procedure

import (
	"encoding/json"
	"sort"
)

// Param is one caller supplied argument. The zero value is unset and is
// never bound, so the backend applies the declared default.
type Param struct {
	Value string
	Set   bool
}

func Value(v string) Param {
	return Param{Value: v, Set: true}
}

// Values turns plain strings into set parameters.
func Values(values ...string) []Param {
	params := make([]Param, len(values))
	for i, v := range values {
		params[i] = Value(v)
	}
	return params
}

// Row is one cursor row keyed by lower-cased column name.
type Row map[string]string

// Output is a single named result: a scalar or the rows of a cursor.
type Output struct {
	Scalar string
	Rows   []Row
	Cursor bool
}

func ScalarOutput(v string) Output {
	return Output{Scalar: v}
}

func CursorOutput(rows []Row) Output {
	if rows == nil {
		rows = []Row{}
	}
	return Output{Rows: rows, Cursor: true}
}

func (o Output) MarshalJSON() ([]byte, error) {
	if o.Cursor {
		return json.Marshal(o.Rows)
	}
	return json.Marshal(o.Scalar)
}

// Result maps output parameter names to their values. An empty result is
// valid and means the procedure produced nothing to show.
type Result map[string]Output

// Names returns the output names in sorted order.
func (r Result) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FirstCursor returns the rows of the first cursor output by name order.
func (r Result) FirstCursor() ([]Row, bool) {
	for _, n := range r.Names() {
		if o := r[n]; o.Cursor {
			return o.Rows, true
		}
	}
	return nil, false
}
