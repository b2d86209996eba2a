package audio

import (
	"encoding/binary"
	"math"
)

// ConvertToS16 converts an interleaved buffer in src's native format to
// interleaved little-endian S16, per spec §4.7 stage 2's fixed rules.
func ConvertToS16(format SampleFormat, src []byte) []int16 {
	switch format {
	case FormatS16:
		out := make([]int16, len(src)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
		}
		return out

	case FormatS24:
		n := len(src) / 3
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			b := src[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = int16(v >> 8)
		}
		return out

	case FormatF32:
		n := len(src) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(src[i*4:])
			f := math.Float32frombits(bits)
			out[i] = clampToS16(f)
		}
		return out

	case FormatU8:
		out := make([]int16, len(src))
		for i, u := range src {
			out[i] = int16(int(u)-128) << 8
		}
		return out
	}
	return nil
}

func clampToS16(f float32) int16 {
	v := math.Round(float64(f) * 32767)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}
