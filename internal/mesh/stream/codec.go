package stream

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/visualmesh/internal/mesh"
)

// CodecName is the gRPC content subtype used for batch messages.
const CodecName = "batch"

// ErrBadMessage is returned when a message cannot be encoded or decoded.
var ErrBadMessage = errors.New("bad stream message")

func init() {
	encoding.RegisterCodec(Codec{})
}

// SubscribeRequest opens a batch stream.
type SubscribeRequest struct {
	ClientName string
}

// BatchMessage is one batch on the wire with its publish sequence number.
type BatchMessage struct {
	Seq   uint64
	Batch *mesh.Batch
}

// Codec encodes SubscribeRequest and BatchMessage with the protobuf wire
// format, without generated code.
type Codec struct{}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *SubscribeRequest:
		var out []byte
		out = protowire.AppendTag(out, reqClientName, protowire.BytesType)
		return protowire.AppendString(out, m.ClientName), nil
	case *BatchMessage:
		return encodeBatch(m)
	default:
		return nil, fmt.Errorf("%w: cannot marshal %T", ErrBadMessage, v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *SubscribeRequest:
		*m = SubscribeRequest{}
		return walk(data, func(num protowire.Number, typ protowire.Type, b []byte, _ uint64) error {
			if num == reqClientName && typ == protowire.BytesType {
				m.ClientName = string(b)
			}
			return nil
		})
	case *BatchMessage:
		return decodeBatch(data, m)
	default:
		return fmt.Errorf("%w: cannot unmarshal into %T", ErrBadMessage, v)
	}
}

// Field numbers.
const (
	reqClientName protowire.Number = 1

	batchSeq     protowire.Number = 1
	batchX       protowire.Number = 2 // packed float, 3 per node including the sentinel
	batchDegree  protowire.Number = 3
	batchG       protowire.Number = 4 // packed zigzag varint, degree per row
	batchYWidth  protowire.Number = 5
	batchY       protowire.Number = 6
	batchW       protowire.Number = 7
	batchCWidth  protowire.Number = 8
	batchC       protowire.Number = 9
	batchV       protowire.Number = 10
	batchExample protowire.Number = 11

	exampleCounts protowire.Number = 1 // packed varint, one per view
	exampleJpg    protowire.Number = 2
)

func encodeBatch(m *BatchMessage) ([]byte, error) {
	b := m.Batch
	if b == nil {
		return nil, fmt.Errorf("%w: nil batch", ErrBadMessage)
	}
	degree, g, err := flattenInts(b.G)
	if err != nil {
		return nil, fmt.Errorf("%w: G: %v", ErrBadMessage, err)
	}
	yWidth, y, err := flattenFloats(b.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: Y: %v", ErrBadMessage, err)
	}
	cWidth, c, err := flattenFloats(b.C)
	if err != nil {
		return nil, fmt.Errorf("%w: C: %v", ErrBadMessage, err)
	}
	x := make([]float32, 0, 3*len(b.X))
	for _, p := range b.X {
		x = append(x, p[:]...)
	}

	var out []byte
	out = protowire.AppendTag(out, batchSeq, protowire.VarintType)
	out = protowire.AppendVarint(out, m.Seq)
	out = appendPackedFloats(out, batchX, x)
	out = protowire.AppendTag(out, batchDegree, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(degree))
	out = appendPackedZigZag(out, batchG, g)
	out = protowire.AppendTag(out, batchYWidth, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(yWidth))
	out = appendPackedFloats(out, batchY, y)
	out = appendPackedFloats(out, batchW, b.W)
	out = protowire.AppendTag(out, batchCWidth, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(cWidth))
	out = appendPackedFloats(out, batchC, c)
	out = appendPackedFloats(out, batchV, b.V)

	for i, counts := range b.N {
		var ex []byte
		packed := make([]byte, 0, len(counts))
		for _, n := range counts {
			packed = protowire.AppendVarint(packed, uint64(n))
		}
		ex = protowire.AppendTag(ex, exampleCounts, protowire.BytesType)
		ex = protowire.AppendBytes(ex, packed)
		if i < len(b.Jpg) {
			for _, jpg := range b.Jpg[i] {
				ex = protowire.AppendTag(ex, exampleJpg, protowire.BytesType)
				ex = protowire.AppendBytes(ex, jpg)
			}
		}
		out = protowire.AppendTag(out, batchExample, protowire.BytesType)
		out = protowire.AppendBytes(out, ex)
	}
	return out, nil
}

func decodeBatch(data []byte, m *BatchMessage) error {
	var (
		seq            uint64
		degree, yw, cw int
		x, y, w, c, v  []float32
		g              []int32
		b              = &mesh.Batch{}
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, raw []byte, scalar uint64) error {
		var err error
		switch num {
		case batchSeq:
			seq = scalar
		case batchDegree:
			degree = int(scalar)
		case batchYWidth:
			yw = int(scalar)
		case batchCWidth:
			cw = int(scalar)
		case batchX:
			x, err = consumeFloats(x, raw)
		case batchY:
			y, err = consumeFloats(y, raw)
		case batchW:
			w, err = consumeFloats(w, raw)
		case batchC:
			c, err = consumeFloats(c, raw)
		case batchV:
			v, err = consumeFloats(v, raw)
		case batchG:
			g, err = consumeZigZag(g, raw)
		case batchExample:
			var counts []int
			var jpgs [][]byte
			err = walk(raw, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
				switch {
				case num == exampleCounts && typ == protowire.BytesType:
					for len(raw) > 0 {
						n, l := protowire.ConsumeVarint(raw)
						if l < 0 {
							return protowire.ParseError(l)
						}
						counts = append(counts, int(n))
						raw = raw[l:]
					}
				case num == exampleJpg && typ == protowire.BytesType:
					jpgs = append(jpgs, append([]byte(nil), raw...))
				}
				return nil
			})
			if counts == nil {
				counts = []int{}
			}
			b.N = append(b.N, counts)
			b.Jpg = append(b.Jpg, jpgs)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	if len(x)%3 != 0 {
		return fmt.Errorf("%w: X has %d values", ErrBadMessage, len(x))
	}
	b.X = make([][3]float32, len(x)/3)
	for i := range b.X {
		b.X[i] = [3]float32{x[3*i], x[3*i+1], x[3*i+2]}
	}
	if b.G, err = splitInts(g, degree, len(b.X)); err != nil {
		return err
	}
	nodes := len(w)
	if b.Y, err = splitFloats(y, yw, nodes); err != nil {
		return err
	}
	if b.C, err = splitFloats(c, cw, nodes); err != nil {
		return err
	}
	b.W = w
	b.V = v
	*m = BatchMessage{Seq: seq, Batch: b}
	return nil
}

func flattenInts(rows [][]int32) (int, []int32, error) {
	if len(rows) == 0 {
		return 0, nil, nil
	}
	width := len(rows[0])
	flat := make([]int32, 0, width*len(rows))
	for i, r := range rows {
		if len(r) != width {
			return 0, nil, fmt.Errorf("row %d has width %d, want %d", i, len(r), width)
		}
		flat = append(flat, r...)
	}
	return width, flat, nil
}

func flattenFloats(rows [][]float32) (int, []float32, error) {
	if len(rows) == 0 {
		return 0, nil, nil
	}
	width := len(rows[0])
	flat := make([]float32, 0, width*len(rows))
	for i, r := range rows {
		if len(r) != width {
			return 0, nil, fmt.Errorf("row %d has width %d, want %d", i, len(r), width)
		}
		flat = append(flat, r...)
	}
	return width, flat, nil
}

func splitInts(flat []int32, width, rows int) ([][]int32, error) {
	if len(flat) != width*rows {
		return nil, fmt.Errorf("%w: %d values for %d rows of %d", ErrBadMessage, len(flat), rows, width)
	}
	out := make([][]int32, rows)
	for i := range out {
		out[i] = flat[i*width : (i+1)*width : (i+1)*width]
	}
	return out, nil
}

func splitFloats(flat []float32, width, rows int) ([][]float32, error) {
	if len(flat) != width*rows {
		return nil, fmt.Errorf("%w: %d values for %d rows of %d", ErrBadMessage, len(flat), rows, width)
	}
	out := make([][]float32, rows)
	for i := range out {
		out[i] = flat[i*width : (i+1)*width : (i+1)*width]
	}
	return out, nil
}

func appendPackedFloats(out []byte, num protowire.Number, v []float32) []byte {
	packed := make([]byte, 0, 4*len(v))
	for _, f := range v {
		packed = protowire.AppendFixed32(packed, math.Float32bits(f))
	}
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendBytes(out, packed)
}

func appendPackedZigZag(out []byte, num protowire.Number, v []int32) []byte {
	var packed []byte
	for _, n := range v {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(n)))
	}
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendBytes(out, packed)
}

func consumeFloats(dst []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("packed float list of %d bytes", len(b))
	}
	if dst == nil {
		dst = make([]float32, 0, len(b)/4)
	}
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst, nil
}

func consumeZigZag(dst []int32, b []byte) ([]int32, error) {
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, int32(protowire.DecodeZigZag(v)))
		b = b[n:]
	}
	return dst, nil
}

// walk visits every top-level field of b. Length-delimited values are passed
// as raw bytes, varints as scalar; other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte, scalar uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var (
			raw    []byte
			scalar uint64
		)
		switch typ {
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ == protowire.BytesType || typ == protowire.VarintType {
			if err := fn(num, typ, raw, scalar); err != nil {
				return err
			}
		}
	}
	return nil
}
