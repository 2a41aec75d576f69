package quant

import "github.com/lhpqaq/ggmlquant/internal/ggml"

// Legacy 32-weight block formats. Layouts match ggml:
//
//	q4_0: fp16 d           | 16 bytes of 4-bit levels (pairs j, j+16)
//	q4_1: fp16 d, fp16 m   | 16 bytes of 4-bit levels
//	q5_0: fp16 d,    u32 qh| 16 bytes of low nibbles
//	q5_1: fp16 d, m, u32 qh| 16 bytes of low nibbles
//	q8_0: fp16 d           | 32 int8 levels

func quantizeBlockQ4_0(dst []byte, x []float32) {
	var amax, max float32
	for _, v := range x {
		a := v
		if a < 0 {
			a = -a
		}
		if a > amax {
			amax = a
			max = v
		}
	}

	d := max / -8
	var id float32
	if d != 0 {
		id = 1 / d
	}
	putLeU16(dst, ggml.FP32ToFP16(d))

	qs := dst[2:]
	for j := 0; j < QK/2; j++ {
		x0 := x[j] * id
		x1 := x[j+QK/2] * id
		xi0 := clampInt(int(x0+8.5), 0, 15)
		xi1 := clampInt(int(x1+8.5), 0, 15)
		qs[j] = byte(xi0) | byte(xi1)<<4
	}
}

func dequantizeBlockQ4_0(dst []float32, src []byte) {
	d := ggml.FP16ToFP32(leU16(src))
	qs := src[2:]
	for j := 0; j < QK/2; j++ {
		dst[j] = d * (float32(qs[j]&0x0F) - 8)
		dst[j+QK/2] = d * (float32(qs[j]>>4) - 8)
	}
}

func quantizeBlockQ4_1(dst []byte, x []float32) {
	min, max := x[0], x[0]
	for _, v := range x[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	d := (max - min) / 15
	var id float32
	if d != 0 {
		id = 1 / d
	}
	putLeU16(dst, ggml.FP32ToFP16(d))
	putLeU16(dst[2:], ggml.FP32ToFP16(min))

	qs := dst[4:]
	for j := 0; j < QK/2; j++ {
		x0 := (x[j] - min) * id
		x1 := (x[j+QK/2] - min) * id
		xi0 := clampInt(int(x0+0.5), 0, 15)
		xi1 := clampInt(int(x1+0.5), 0, 15)
		qs[j] = byte(xi0) | byte(xi1)<<4
	}
}

func dequantizeBlockQ4_1(dst []float32, src []byte) {
	d := ggml.FP16ToFP32(leU16(src))
	m := ggml.FP16ToFP32(leU16(src[2:]))
	qs := src[4:]
	for j := 0; j < QK/2; j++ {
		dst[j] = d*float32(qs[j]&0x0F) + m
		dst[j+QK/2] = d*float32(qs[j]>>4) + m
	}
}

func quantizeBlockQ5_0(dst []byte, x []float32) {
	var amax, max float32
	for _, v := range x {
		a := v
		if a < 0 {
			a = -a
		}
		if a > amax {
			amax = a
			max = v
		}
	}

	d := max / -16
	var id float32
	if d != 0 {
		id = 1 / d
	}
	putLeU16(dst, ggml.FP32ToFP16(d))

	var qh uint32
	qs := dst[6:]
	for j := 0; j < QK/2; j++ {
		x0 := x[j] * id
		x1 := x[j+QK/2] * id
		xi0 := clampInt(int(x0+16.5), 0, 31)
		xi1 := clampInt(int(x1+16.5), 0, 31)
		qs[j] = byte(xi0&0x0F) | byte(xi1&0x0F)<<4
		qh |= (uint32(xi0) >> 4) << j
		qh |= (uint32(xi1) >> 4) << (j + QK/2)
	}
	putLeU32(dst[2:], qh)
}

func dequantizeBlockQ5_0(dst []float32, src []byte) {
	d := ggml.FP16ToFP32(leU16(src))
	qh := leU32(src[2:])
	qs := src[6:]
	for j := 0; j < QK/2; j++ {
		h0 := byte((qh >> j) & 1)
		h1 := byte((qh >> (j + QK/2)) & 1)
		dst[j] = d * (float32(qs[j]&0x0F|h0<<4) - 16)
		dst[j+QK/2] = d * (float32(qs[j]>>4|h1<<4) - 16)
	}
}

func quantizeBlockQ5_1(dst []byte, x []float32) {
	min, max := x[0], x[0]
	for _, v := range x[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	d := (max - min) / 31
	var id float32
	if d != 0 {
		id = 1 / d
	}
	putLeU16(dst, ggml.FP32ToFP16(d))
	putLeU16(dst[2:], ggml.FP32ToFP16(min))

	var qh uint32
	qs := dst[8:]
	for j := 0; j < QK/2; j++ {
		x0 := (x[j] - min) * id
		x1 := (x[j+QK/2] - min) * id
		xi0 := clampInt(int(x0+0.5), 0, 31)
		xi1 := clampInt(int(x1+0.5), 0, 31)
		qs[j] = byte(xi0&0x0F) | byte(xi1&0x0F)<<4
		qh |= (uint32(xi0) >> 4) << j
		qh |= (uint32(xi1) >> 4) << (j + QK/2)
	}
	putLeU32(dst[4:], qh)
}

func dequantizeBlockQ5_1(dst []float32, src []byte) {
	d := ggml.FP16ToFP32(leU16(src))
	m := ggml.FP16ToFP32(leU16(src[2:]))
	qh := leU32(src[4:])
	qs := src[8:]
	for j := 0; j < QK/2; j++ {
		h0 := byte((qh >> j) & 1)
		h1 := byte((qh >> (j + QK/2)) & 1)
		dst[j] = d*float32(qs[j]&0x0F|h0<<4) + m
		dst[j+QK/2] = d*float32(qs[j]>>4|h1<<4) + m
	}
}

func quantizeBlockQ8_0(dst []byte, x []float32) {
	var amax float32
	for _, v := range x {
		a := v
		if a < 0 {
			a = -a
		}
		if a > amax {
			amax = a
		}
	}

	d := amax / 127
	var id float32
	if d != 0 {
		id = 1 / d
	}
	putLeU16(dst, ggml.FP32ToFP16(d))

	qs := dst[2:]
	for j, v := range x {
		qs[j] = byte(int8(nearestInt(v * id)))
	}
}

func dequantizeBlockQ8_0(dst []float32, src []byte) {
	d := ggml.FP16ToFP32(leU16(src))
	qs := src[2:]
	for j := range dst {
		dst[j] = d * float32(int8(qs[j]))
	}
}
