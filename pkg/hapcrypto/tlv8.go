package hapcrypto

import "fmt"

// TLV8 is the type-length-value encoding HomeKit accessory pairing uses for
// the sub-payloads carried inside pair-setup/pair-verify's plist bodies
// (spec §4.5's "encrypted sub-TLV exchange"): a 1-byte type, a 1-byte
// length (values longer than 255 bytes are split across repeated entries
// of the same type, concatenated on decode).
type TLV8 map[byte][]byte

// Standard TLV8 item types used by this package's callers.
const (
	TLVTypeIdentifier = 0x01
	TLVTypePublicKey  = 0x03
	TLVTypeSignature  = 0x0A
)

// EncodeTLV8 serializes items in the given type order, chunking any value
// longer than 255 bytes into consecutive same-type entries.
func EncodeTLV8(order []byte, items TLV8) []byte {
	var out []byte
	for _, t := range order {
		v, ok := items[t]
		if !ok {
			continue
		}
		if len(v) == 0 {
			out = append(out, t, 0)
			continue
		}
		for len(v) > 0 {
			n := len(v)
			if n > 255 {
				n = 255
			}
			out = append(out, t, byte(n))
			out = append(out, v[:n]...)
			v = v[n:]
		}
	}
	return out
}

// DecodeTLV8 parses a TLV8 byte stream, concatenating chunked entries of
// the same type that appear back-to-back.
func DecodeTLV8(data []byte) (TLV8, error) {
	out := make(TLV8)
	var lastType byte
	haveLast := false

	for i := 0; i < len(data); {
		if i+2 > len(data) {
			return nil, fmt.Errorf("hapcrypto: tlv8 truncated header")
		}
		t := data[i]
		n := int(data[i+1])
		i += 2
		if i+n > len(data) {
			return nil, fmt.Errorf("hapcrypto: tlv8 truncated value")
		}
		v := data[i : i+n]
		i += n

		if haveLast && t == lastType {
			out[t] = append(out[t], v...)
		} else {
			out[t] = append([]byte(nil), v...)
		}
		lastType = t
		haveLast = true
	}
	return out, nil
}
