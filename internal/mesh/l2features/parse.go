package l2features

import (
	"errors"
	"fmt"

	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
)

var (
	// ErrMissingFeature is returned when a record lacks a stored field the
	// schema requires.
	ErrMissingFeature = errors.New("missing feature")
	// ErrFeatureType is returned when a stored field has a different list
	// type than the schema declares.
	ErrFeatureType = errors.New("feature type mismatch")
)

// Features holds parsed record values keyed by logical key.
type Features map[string]l1records.Feature

// Parse extracts every field of the schema from ex. Fields shared by several
// logical keys through overrides are read once and fanned out.
func (s *Schema) Parse(ex *l1records.Example) (Features, error) {
	for _, k := range s.StorageKeys() {
		want := s.storage[k]
		f, ok := ex.Features[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingFeature, k)
		}
		if f.Kind != want {
			return nil, fmt.Errorf("%w: %q is %s, want %s", ErrFeatureType, k, f.Kind, want)
		}
	}

	out := make(Features, len(s.logical))
	for k, d := range s.logical {
		out[k] = ex.Features[d.Storage]
	}
	return out, nil
}

// ForPrefix returns the subset of features a stage declared in req, with the
// view prefix stripped from the keys.
func (f Features) ForPrefix(prefix string, req Request) Features {
	out := make(Features, len(req))
	for k := range req {
		if v, ok := f[prefix+k]; ok {
			out[k] = v
		}
	}
	return out
}

// Floats returns the float list stored under key.
func (f Features) Floats(key string) ([]float32, error) {
	v, err := f.get(key, Float)
	if err != nil {
		return nil, err
	}
	return v.Floats, nil
}

// Ints returns the int64 list stored under key.
func (f Features) Ints(key string) ([]int64, error) {
	v, err := f.get(key, Int64)
	if err != nil {
		return nil, err
	}
	return v.Ints, nil
}

// Blob returns the first bytes value stored under key.
func (f Features) Blob(key string) ([]byte, error) {
	v, err := f.get(key, Bytes)
	if err != nil {
		return nil, err
	}
	if len(v.Bytes) == 0 {
		return nil, fmt.Errorf("%w: %q has no values", ErrMissingFeature, key)
	}
	return v.Bytes[0], nil
}

func (f Features) get(key string, want DType) (l1records.Feature, error) {
	v, ok := f[key]
	if !ok {
		return l1records.Feature{}, fmt.Errorf("%w: %q", ErrMissingFeature, key)
	}
	if v.Kind != want {
		return l1records.Feature{}, fmt.Errorf("%w: %q is %s, want %s", ErrFeatureType, key, v.Kind, want)
	}
	return v, nil
}
