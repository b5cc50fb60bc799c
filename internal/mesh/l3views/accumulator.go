package l3views

import "sort"

// Values is what a stage returns: named outputs to merge into the view's
// accumulated result.
type Values map[string]any

// Accumulator is the per-view result threaded through the stages. Writes
// are last-write-wins: a later stage may replace an earlier stage's value
// under the same name. The accumulator remembers the order in which names
// were first written.
//
// An Accumulator belongs to one view run and must not be shared between
// goroutines.
type Accumulator struct {
	values map[string]any
	order  []string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{values: make(map[string]any)}
}

// Set stores v under key, replacing any previous value.
func (a *Accumulator) Set(key string, v any) {
	if _, ok := a.values[key]; !ok {
		a.order = append(a.order, key)
	}
	a.values[key] = v
}

// Merge applies every entry of v. Entries are applied in sorted key order so
// that first-write order is reproducible.
func (a *Accumulator) Merge(v Values) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a.Set(k, v[k])
	}
}

// Get returns the value stored under key.
func (a *Accumulator) Get(key string) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Keys returns the stored names in first-write order.
func (a *Accumulator) Keys() []string {
	return append([]string(nil), a.order...)
}

// Len returns the number of stored names.
func (a *Accumulator) Len() int {
	return len(a.values)
}
