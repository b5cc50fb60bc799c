package l2features

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
)

// DType is the storage type of a feature.
type DType = l1records.Kind

// Storage types.
const (
	Bytes = l1records.KindBytes
	Float = l1records.KindFloat
	Int64 = l1records.KindInt64
)

// Request is the set of features one stage needs, keyed by un-namespaced
// logical key.
type Request map[string]DType

// Descriptor is a resolved feature: its namespaced logical key, storage
// type and the literal key it is read from.
type Descriptor struct {
	Key     string
	Type    DType
	Storage string
}

// ErrSchemaConflict is matched by every *SchemaConflictError.
var ErrSchemaConflict = errors.New("schema conflict")

// SchemaConflictError reports two requests that resolve to the same key
// with different types.
type SchemaConflictError struct {
	Key   string
	TypeA DType
	TypeB DType

	// Storage is true when the clash only appears after key overrides
	// have redirected several logical keys to one stored field.
	Storage bool
}

func (e *SchemaConflictError) Error() string {
	scope := "feature"
	if e.Storage {
		scope = "stored feature"
	}
	return fmt.Sprintf("incompatible types for %s %q (%s vs %s)", scope, e.Key, e.TypeA, e.TypeB)
}

// Is lets errors.Is match ErrSchemaConflict.
func (e *SchemaConflictError) Is(target error) bool {
	return target == ErrSchemaConflict
}

// Schema is the resolved, read-only set of fields to load from a record.
// It is safe for concurrent use once returned by Resolve.
type Schema struct {
	logical map[string]Descriptor // namespaced logical key -> descriptor
	storage map[string]DType      // literal stored key -> type
}

// Resolve builds the schema for every view prefix from the stage requests.
// overrides maps a namespaced logical key to the stored key that actually
// holds it.
//
// The result does not depend on the order of prefixes or requests: all
// declarations are gathered first and conflicts are looked for afterwards,
// reporting the lexically smallest conflicting key.
func Resolve(prefixes []string, requests []Request, overrides map[string]string) (*Schema, error) {
	logicalTypes := make(map[string]map[DType]struct{})
	for _, p := range prefixes {
		for _, req := range requests {
			for k, t := range req {
				addType(logicalTypes, p+k, t)
			}
		}
	}
	if err := firstConflict(logicalTypes, false); err != nil {
		return nil, err
	}

	s := &Schema{
		logical: make(map[string]Descriptor, len(logicalTypes)),
		storage: make(map[string]DType),
	}
	storageTypes := make(map[string]map[DType]struct{})
	for k, types := range logicalTypes {
		t := onlyType(types)
		stored := k
		if o, ok := overrides[k]; ok && o != "" {
			stored = o
		}
		s.logical[k] = Descriptor{Key: k, Type: t, Storage: stored}
		addType(storageTypes, stored, t)
	}
	if err := firstConflict(storageTypes, true); err != nil {
		return nil, err
	}
	for k, types := range storageTypes {
		s.storage[k] = onlyType(types)
	}
	return s, nil
}

func addType(m map[string]map[DType]struct{}, key string, t DType) {
	set, ok := m[key]
	if !ok {
		set = make(map[DType]struct{}, 1)
		m[key] = set
	}
	set[t] = struct{}{}
}

func onlyType(set map[DType]struct{}) DType {
	for t := range set {
		return t
	}
	return l1records.KindInvalid
}

func firstConflict(m map[string]map[DType]struct{}, storage bool) error {
	keys := make([]string, 0, len(m))
	for k, types := range m {
		if len(types) > 1 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	types := make([]DType, 0, len(m[keys[0]]))
	for t := range m[keys[0]] {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return &SchemaConflictError{Key: keys[0], TypeA: types[0], TypeB: types[1], Storage: storage}
}

// Lookup returns the descriptor for a namespaced logical key.
func (s *Schema) Lookup(key string) (Descriptor, bool) {
	d, ok := s.logical[key]
	return d, ok
}

// Keys returns the namespaced logical keys in sorted order.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.logical))
	for k := range s.logical {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StorageKeys returns the stored keys to read, in sorted order.
func (s *Schema) StorageKeys() []string {
	keys := make([]string, 0, len(s.storage))
	for k := range s.storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StorageType returns the type expected for a stored key.
func (s *Schema) StorageType(key string) (DType, bool) {
	t, ok := s.storage[key]
	return t, ok
}

// Equal reports whether two schemas describe the same mapping.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.logical) != len(o.logical) || len(s.storage) != len(o.storage) {
		return false
	}
	for k, d := range s.logical {
		if o.logical[k] != d {
			return false
		}
	}
	for k, t := range s.storage {
		if ot, ok := o.storage[k]; !ok || ot != t {
			return false
		}
	}
	return true
}
