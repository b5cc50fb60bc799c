package l1records

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the list type stored in an Example feature.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBytes
	KindFloat
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindFloat:
		return "float"
	case KindInt64:
		return "int64"
	default:
		return "invalid"
	}
}

// ParseKind converts the configuration spelling of a kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bytes", "string":
		return KindBytes, nil
	case "float", "float32":
		return KindFloat, nil
	case "int", "int64":
		return KindInt64, nil
	}
	return KindInvalid, fmt.Errorf("unknown feature kind %q", s)
}

// ErrMalformedExample is returned when a payload is not a valid Example.
var ErrMalformedExample = errors.New("malformed example")

// Feature is one named list inside an Example.
type Feature struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Ints   []int64
}

// BytesFeature builds a bytes feature.
func BytesFeature(v ...[]byte) Feature { return Feature{Kind: KindBytes, Bytes: v} }

// FloatFeature builds a float feature.
func FloatFeature(v ...float32) Feature { return Feature{Kind: KindFloat, Floats: v} }

// Int64Feature builds an int64 feature.
func Int64Feature(v ...int64) Feature { return Feature{Kind: KindInt64, Ints: v} }

// Len returns the number of values in the feature's list.
func (f Feature) Len() int {
	switch f.Kind {
	case KindBytes:
		return len(f.Bytes)
	case KindFloat:
		return len(f.Floats)
	case KindInt64:
		return len(f.Ints)
	}
	return 0
}

// Example is the decoded form of a tf.train.Example record.
type Example struct {
	Features map[string]Feature
}

// Field numbers of the tf.train.Example family of messages.
const (
	exampleFeatures protowire.Number = 1 // Example.features
	featuresEntry   protowire.Number = 1 // Features.feature (map entry)
	entryKey        protowire.Number = 1
	entryValue      protowire.Number = 2
	featureBytes    protowire.Number = 1 // Feature.bytes_list
	featureFloat    protowire.Number = 2 // Feature.float_list
	featureInt64    protowire.Number = 3 // Feature.int64_list
	listValue       protowire.Number = 1 // *List.value
)

// EncodeExample serialises ex. Keys are written in sorted order so the
// output is deterministic.
func EncodeExample(ex *Example) []byte {
	keys := make([]string, 0, len(ex.Features))
	for k := range ex.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, entryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, encodeFeature(ex.Features[k]))

		features = protowire.AppendTag(features, featuresEntry, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, exampleFeatures, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out
}

func encodeFeature(f Feature) []byte {
	var list []byte
	var field protowire.Number
	switch f.Kind {
	case KindBytes:
		field = featureBytes
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case KindFloat:
		field = featureFloat
		packed := make([]byte, 0, 4*len(f.Floats))
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	case KindInt64:
		field = featureInt64
		var packed []byte
		for _, v := range f.Ints {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	default:
		return nil
	}
	var out []byte
	out = protowire.AppendTag(out, field, protowire.BytesType)
	out = protowire.AppendBytes(out, list)
	return out
}

// DecodeExample parses a serialised tf.train.Example. Both packed and
// unpacked encodings of numeric lists are accepted; unknown fields are
// skipped.
func DecodeExample(b []byte) (*Example, error) {
	ex := &Example{Features: make(map[string]Feature)}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return walk(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != featuresEntry || typ != protowire.BytesType {
				return nil
			}
			key, f, err := decodeEntry(entry)
			if err != nil {
				return err
			}
			ex.Features[key] = f
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func decodeEntry(b []byte) (string, Feature, error) {
	var key string
	var f Feature
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case entryKey:
			key = string(v)
		case entryValue:
			var err error
			f, err = decodeFeature(v)
			return err
		}
		return nil
	})
	return key, f, err
}

func decodeFeature(b []byte) (Feature, error) {
	var f Feature
	err := walk(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case featureBytes:
			f = Feature{Kind: KindBytes}
			return walk(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == listValue && typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, append([]byte(nil), v...))
				}
				return nil
			})
		case featureFloat:
			f = Feature{Kind: KindFloat, Floats: []float32{}}
			return walkScalars(list, protowire.Fixed32Type, func(b []byte) (int, error) {
				v, n := protowire.ConsumeFixed32(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				f.Floats = append(f.Floats, math.Float32frombits(v))
				return n, nil
			})
		case featureInt64:
			f = Feature{Kind: KindInt64, Ints: []int64{}}
			return walkScalars(list, protowire.VarintType, func(b []byte) (int, error) {
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				f.Ints = append(f.Ints, int64(v))
				return n, nil
			})
		}
		return nil
	})
	return f, err
}

// walkScalars visits the value field of a numeric list in either packed
// (length-delimited) or unpacked (one tag per value) form.
func walkScalars(b []byte, scalar protowire.Type, consume func([]byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedExample, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == listValue && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedExample, protowire.ParseError(m))
			}
			for len(packed) > 0 {
				k, err := consume(packed)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrMalformedExample, err)
				}
				packed = packed[k:]
			}
			b = b[m:]
		case num == listValue && typ == scalar:
			k, err := consume(b)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedExample, err)
			}
			b = b[k:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedExample, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// walk iterates over the fields of a message. Length-delimited values are
// passed to fn; other values are passed as nil.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedExample, protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedExample, protowire.ParseError(m))
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedExample, protowire.ParseError(m))
		}
		if err := fn(num, typ, nil); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}
