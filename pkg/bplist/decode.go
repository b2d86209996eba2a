package bplist

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Decode parses a bplist00 document and returns its top-level object.
// Concrete Go types returned: nil, bool, int64 (sign-extended per §4.1),
// float64, time.Time, []byte, string, []any, *Dict.
func Decode(data []byte) (any, error) {
	if len(data) < 8+32 {
		return nil, TruncatedContainer{"shorter than header+trailer"}
	}
	if string(data[:8]) != string(magic) {
		return nil, BadMagic{}
	}

	trailer := data[len(data)-32:]
	offsetSize := int(trailer[6])
	refSize := int(trailer[7])
	numObjects := binary.BigEndian.Uint64(trailer[8:16])
	rootRef := binary.BigEndian.Uint64(trailer[16:24])
	offsetTableStart := binary.BigEndian.Uint64(trailer[24:32])

	if offsetSize == 0 || refSize == 0 {
		return nil, BadTrailer{"zero-width offset or ref size"}
	}
	if offsetTableStart+numObjects*uint64(offsetSize) > uint64(len(data)-32) {
		return nil, BadTrailer{"offset table overruns body"}
	}

	offsets := make([]uint64, numObjects)
	for i := uint64(0); i < numObjects; i++ {
		start := offsetTableStart + i*uint64(offsetSize)
		offsets[i] = readUint(data[start:start+uint64(offsetSize)], offsetSize)
	}

	d := &decoder{data: data, offsets: offsets, refSize: refSize}
	return d.decodeAt(rootRef)
}

type decoder struct {
	data    []byte
	offsets []uint64
	refSize int
}

func (d *decoder) decodeAt(ref uint64) (any, error) {
	if ref >= uint64(len(d.offsets)) {
		return nil, TruncatedContainer{"object ref out of range"}
	}
	pos := d.offsets[ref]
	if pos >= uint64(len(d.data)) {
		return nil, TruncatedContainer{"object offset out of range"}
	}
	return d.decodeObject(pos)
}

func need(data []byte, pos, n uint64) error {
	if pos+n > uint64(len(data)) {
		return TruncatedContainer{"object body truncated"}
	}
	return nil
}

func (d *decoder) decodeObject(pos uint64) (any, error) {
	if err := need(d.data, pos, 1); err != nil {
		return nil, err
	}
	b := d.data[pos]
	marker := b >> 4
	low := b & 0x0F

	switch marker {
	case 0x0:
		switch b {
		case tagNull:
			return nil, nil
		case tagFalse:
			return false, nil
		case tagTrue:
			return true, nil
		}
		return nil, UnknownMarker{b}

	case markerInt:
		n := uint64(1) << low
		if err := need(d.data, pos+1, n); err != nil {
			return nil, err
		}
		return decodeInt(d.data[pos+1 : pos+1+n]), nil

	case markerReal:
		n := uint64(1) << low
		if err := need(d.data, pos+1, n); err != nil {
			return nil, err
		}
		if n == 4 {
			return float64(math.Float32frombits(binary.BigEndian.Uint32(d.data[pos+1:]))), nil
		}
		return math.Float64frombits(binary.BigEndian.Uint64(d.data[pos+1:])), nil

	case markerDate:
		if err := need(d.data, pos+1, 8); err != nil {
			return nil, err
		}
		secs := math.Float64frombits(binary.BigEndian.Uint64(d.data[pos+1:]))
		return appleEpoch.Add(durationFromSeconds(secs)), nil

	case markerData:
		count, next, err := d.readCount(pos, low)
		if err != nil {
			return nil, err
		}
		if err := need(d.data, next, count); err != nil {
			return nil, err
		}
		out := make([]byte, count)
		copy(out, d.data[next:next+count])
		return out, nil

	case markerASCII:
		count, next, err := d.readCount(pos, low)
		if err != nil {
			return nil, err
		}
		if err := need(d.data, next, count); err != nil {
			return nil, err
		}
		return string(d.data[next : next+count]), nil

	case markerUTF16:
		count, next, err := d.readCount(pos, low)
		if err != nil {
			return nil, err
		}
		if err := need(d.data, next, count*2); err != nil {
			return nil, err
		}
		runes := make([]rune, count)
		for i := uint64(0); i < count; i++ {
			runes[i] = rune(binary.BigEndian.Uint16(d.data[next+i*2:]))
		}
		return string(runes), nil

	case markerArray:
		count, next, err := d.readCount(pos, low)
		if err != nil {
			return nil, err
		}
		if err := need(d.data, next, count*uint64(d.refSize)); err != nil {
			return nil, err
		}
		out := make([]any, count)
		for i := uint64(0); i < count; i++ {
			ref := readUint(d.data[next+i*uint64(d.refSize):], d.refSize)
			v, err := d.decodeAt(ref)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case markerDict:
		count, next, err := d.readCount(pos, low)
		if err != nil {
			return nil, err
		}
		if err := need(d.data, next, count*uint64(d.refSize)*2); err != nil {
			return nil, err
		}
		out := NewDict()
		keyRefs := make([]uint64, count)
		for i := uint64(0); i < count; i++ {
			keyRefs[i] = readUint(d.data[next+i*uint64(d.refSize):], d.refSize)
		}
		valStart := next + count*uint64(d.refSize)
		for i := uint64(0); i < count; i++ {
			valRef := readUint(d.data[valStart+i*uint64(d.refSize):], d.refSize)
			kv, err := d.decodeAt(keyRefs[i])
			if err != nil {
				return nil, err
			}
			key, ok := kv.(string)
			if !ok {
				return nil, fmt.Errorf("bplist: dict key is not a string")
			}
			vv, err := d.decodeAt(valRef)
			if err != nil {
				return nil, err
			}
			out.Set(key, vv)
		}
		return out, nil

	case tagFillSep:
		return nil, UnknownMarker{b}
	}

	return nil, UnknownMarker{b}
}

// readCount returns the container's element count and the position right
// after the (possibly extended) count header.
func (d *decoder) readCount(pos uint64, low byte) (count uint64, next uint64, err error) {
	if low != 0x0F {
		return uint64(low), pos + 1, nil
	}
	if err := need(d.data, pos+1, 1); err != nil {
		return 0, 0, err
	}
	lenMarker := d.data[pos+1]
	if lenMarker>>4 != markerInt {
		return 0, 0, BadTrailer{"extended count is not an int object"}
	}
	n := uint64(1) << (lenMarker & 0x0F)
	if err := need(d.data, pos+2, n); err != nil {
		return 0, 0, err
	}
	return uint64(decodeInt(d.data[pos+2 : pos+2+n])), pos + 2 + n, nil
}

// decodeInt sign-extends per §4.1: 1/2/4/8-byte big-endian, two's complement.
func decodeInt(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}

func readUint(b []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
