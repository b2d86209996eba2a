package bplist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

func encodeDate(t time.Time) []byte {
	buf := make([]byte, 9)
	buf[0] = markerDate<<4 | 0x03
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(t.Sub(appleEpoch).Seconds()))
	return buf
}

type encodedObj struct {
	bytes []byte
}

type encoder struct {
	objs    []encodedObj
	objRefs map[any]int
}

// Encode serializes a value (nil, bool, any integer type, float32/float64,
// time.Time, []byte, string, []any or *Dict) as a bplist00 document.
func Encode(top any) ([]byte, error) {
	e := &encoder{objRefs: make(map[any]int)}
	rootRef, err := e.add(top)
	if err != nil {
		return nil, err
	}

	refSize := refSizeFor(len(e.objs))

	var body bytes.Buffer
	body.Write(magic)

	offsets := make([]uint64, len(e.objs))
	for i, o := range e.objs {
		offsets[i] = uint64(body.Len())
		body.Write(rewriteRefs(o.bytes, refSize))
	}

	offsetTableStart := uint64(body.Len())
	offsetSize := offsetSizeFor(offsets)
	for _, off := range offsets {
		writeUint(&body, off, offsetSize)
	}

	var trailer [32]byte
	trailer[6] = offsetSize
	trailer[7] = byte(refSize)
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(e.objs)))
	binary.BigEndian.PutUint64(trailer[16:24], uint64(rootRef))
	binary.BigEndian.PutUint64(trailer[24:32], offsetTableStart)
	body.Write(trailer[:])

	return body.Bytes(), nil
}

// rewriteRefs replaces the placeholder 8-byte-per-ref markers emitted by
// addArray/addDict with refSize-byte big-endian refs, now that the final
// object count (and thus refSize) is known.
func rewriteRefs(b []byte, refSize int) []byte {
	if len(b) == 0 || b[0]>>4 != markerArray && b[0]>>4 != markerDict {
		return b
	}
	// container encodings store their ref list, 8 bytes each, starting
	// right after the header bytes; header length is encoded in b[len(b)-1]
	// as a sentinel written by addArray/addDict.
	headerLen := int(b[len(b)-1])
	refCount := (len(b) - 1 - headerLen) / 8
	out := make([]byte, headerLen, headerLen+refCount*refSize)
	copy(out, b[:headerLen])
	for i := 0; i < refCount; i++ {
		ref := binary.BigEndian.Uint64(b[headerLen+i*8 : headerLen+i*8+8])
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], ref)
		out = append(out, tmp[8-refSize:]...)
	}
	return out
}

func (e *encoder) add(v any) (int, error) {
	idx := len(e.objs)
	e.objs = append(e.objs, encodedObj{}) // reserve slot, preserves object numbering order
	b, err := e.encodeValue(v)
	if err != nil {
		return 0, err
	}
	e.objs[idx] = encodedObj{bytes: b}
	return idx, nil
}

func (e *encoder) encodeValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte{tagNull}, nil
	case bool:
		if x {
			return []byte{tagTrue}, nil
		}
		return []byte{tagFalse}, nil
	case []byte:
		return encodeCounted(markerData, uint64(len(x)), x), nil
	case string:
		return encodeString(x), nil
	case float32:
		return encodeReal(float64(x), 4), nil
	case float64:
		return encodeReal(x, 8), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return encodeInt(toSignedInt64(x)), nil
	case []any:
		return e.addContainer(markerArray, x, nil)
	case *Dict:
		return e.addContainer(markerDict, nil, x)
	case time.Time:
		return encodeDate(x), nil
	default:
		return nil, fmt.Errorf("bplist: unsupported type %T", v)
	}
}

// addContainer emits a placeholder: header bytes, then 8-byte refs (one per
// child), then a trailing sentinel byte recording the header length so
// rewriteRefs can find the ref list once the final refSize is known.
func (e *encoder) addContainer(marker byte, arr []any, dict *Dict) ([]byte, error) {
	var children []any
	if marker == markerArray {
		children = arr
	} else {
		for _, k := range dict.keys {
			children = append(children, k)
		}
		for _, k := range dict.keys {
			children = append(children, dict.values[k])
		}
	}

	refs := make([]int, len(children))
	for i, c := range children {
		ref, err := e.add(c)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}

	count := uint64(len(children))
	if marker == markerArray {
		count = uint64(len(arr))
	} else {
		count = uint64(len(dict.keys))
	}

	header := encodeCountHeader(marker, count)
	out := append([]byte(nil), header...)
	for _, r := range refs {
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(r))
		out = append(out, tmp[:]...)
	}
	out = append(out, byte(len(header)))
	return out, nil
}

func encodeCountHeader(marker byte, count uint64) []byte {
	if count < 15 {
		return []byte{marker<<4 | byte(count)}
	}
	lenObj := encodeInt(int64(count))
	return append([]byte{marker<<4 | 0x0F}, lenObj...)
}

func encodeCounted(marker byte, count uint64, payload []byte) []byte {
	header := encodeCountHeader(marker, count)
	return append(header, payload...)
}

func encodeString(s string) []byte {
	if isASCII(s) {
		return encodeCounted(markerASCII, uint64(len(s)), []byte(s))
	}
	r := []rune(s)
	buf := make([]byte, len(r)*2)
	for i, c := range r {
		binary.BigEndian.PutUint16(buf[i*2:], uint16(c))
	}
	return encodeCounted(markerUTF16, uint64(len(r)), buf)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}

// encodeInt picks the smallest power-of-two width (1, 2, 4 or 8 bytes) that
// represents v, sign-extending negatives to the full chosen width per §4.1.
func encodeInt(v int64) []byte {
	var width int
	var nbits byte
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		width, nbits = 1, 0
	case v >= math.MinInt16 && v <= math.MaxInt16:
		width, nbits = 2, 1
	case v >= math.MinInt32 && v <= math.MaxInt32:
		width, nbits = 4, 2
	default:
		width, nbits = 8, 3
	}
	buf := make([]byte, 1+width)
	buf[0] = markerInt<<4 | nbits
	switch width {
	case 1:
		buf[1] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
	case 4:
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
	case 8:
		binary.BigEndian.PutUint64(buf[1:], uint64(v))
	}
	return buf
}

func encodeReal(v float64, width int) []byte {
	buf := make([]byte, 1+width)
	if width == 4 {
		buf[0] = markerReal<<4 | 2
		binary.BigEndian.PutUint32(buf[1:], math.Float32bits(float32(v)))
	} else {
		buf[0] = markerReal<<4 | 3
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	}
	return buf
}

func refSizeFor(n int) int {
	switch {
	case n <= 0xFF:
		return 1
	case n <= 0xFFFF:
		return 2
	default:
		return 4
	}
}

func offsetSizeFor(offsets []uint64) byte {
	var max uint64
	for _, o := range offsets {
		if o > max {
			max = o
		}
	}
	switch {
	case max <= 0xFF:
		return 1
	case max <= 0xFFFF:
		return 2
	case max <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

func writeUint(buf *bytes.Buffer, v uint64, size byte) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[8-int(size):])
}

func toSignedInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	}
	return 0
}
