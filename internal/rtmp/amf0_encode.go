package rtmp

import (
	"encoding/binary"
	"math"
)

// EncodeAmf0Sequence appends the wire encoding of each value, in
// order, to dst and returns the extended slice.
func EncodeAmf0Sequence(dst []byte, values ...Amf0Value) []byte {
	for _, v := range values {
		dst = encodeAmf0Value(dst, v)
	}
	return dst
}

// encodeAmf0Value covers the subset §4.4 documents for responses
// (Number, Boolean, String, Null, Object, StrictArray) plus Undefined.
// EcmaArray values are encoded as Object, per the same section.
func encodeAmf0Value(dst []byte, v Amf0Value) []byte {
	switch v.Kind {
	case Amf0Number:
		dst = append(dst, amf0MarkerNumber)
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.Number))

	case Amf0Boolean:
		dst = append(dst, amf0MarkerBoolean)
		if v.Boolean {
			return append(dst, 1)
		}
		return append(dst, 0)

	case Amf0String:
		return encodeAmf0ShortString(append(dst, amf0MarkerString), v.String)

	case Amf0Null:
		return append(dst, amf0MarkerNull)

	case Amf0Undefined:
		return append(dst, amf0MarkerUndefined)

	case Amf0Object, Amf0EcmaArray:
		dst = append(dst, amf0MarkerObject)
		for _, p := range v.Properties {
			dst = encodeAmf0ShortString(dst, p.Key)
			dst = encodeAmf0Value(dst, p.Value)
		}
		dst = encodeAmf0ShortString(dst, "")
		return append(dst, amf0MarkerObjectEnd)

	case Amf0StrictArray:
		dst = append(dst, amf0MarkerStrictArray)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.Items)))
		for _, item := range v.Items {
			dst = encodeAmf0Value(dst, item)
		}
		return dst

	default:
		return dst
	}
}

func encodeAmf0ShortString(dst []byte, s string) []byte {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}
