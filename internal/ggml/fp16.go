package ggml

import "math"

// FP16ToFP32 converts an IEEE 754 half-precision value to float32.
func FP16ToFP32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			// subnormal: renormalize
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}

// FP32ToFP16 converts a float32 to IEEE 754 half precision with
// round-to-nearest-even, saturating overflow to infinity.
func FP32ToFP16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23) & 0xFF
	frac := bits & 0x7FFFFF

	switch {
	case exp == 0xFF:
		// Inf or NaN
		if frac != 0 {
			return sign | 0x7C00 | uint16(frac>>13) | 1
		}
		return sign | 0x7C00
	case exp-127 > 15:
		return sign | 0x7C00
	case exp-127 < -25:
		return sign
	case exp-127 < -14:
		// subnormal half
		shift := uint32(-(exp - 127) - 1)
		mant := frac | 0x800000
		half := sign | uint16(mant>>shift)
		rem := mant & ((1 << shift) - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && half&1 == 1) {
			half++
		}
		return half
	default:
		halfExp := uint16(exp-127+15) << 10
		half := sign | halfExp | uint16(frac>>13)
		rem := frac & 0x1FFF
		if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
			half++
		}
		return half
	}
}
