package quant

import (
	"math"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

// K-quant super-block formats. Layouts match ggml:
//
//	q2_k: 16 scale bytes (scale lo nibble, min hi nibble) | 64 bytes of
//	      2-bit levels | fp16 d | fp16 dmin
//	q3_k: 32 byte high-bit mask | 64 bytes of 2-bit levels | 12 bytes of
//	      packed 6-bit scales | fp16 d
//	q4_k: fp16 d, dmin | 12 bytes of packed 6-bit scales/mins | 128 bytes
//	      of 4-bit levels
//	q5_k: q4_k plus a 32-byte high-bit plane
//	q6_k: 128 bytes of low nibbles | 64 bytes of 2-bit high bits | 16 int8
//	      scales | fp16 d

const groupMaxEps = 1e-15

// makeQxQuants fits a symmetric scale for n weights against levels in
// [-nmax, nmax-1], weighting the squared error by x^2. L receives the
// levels offset by nmax. Mirrors ggml's make_qx_quants with rmse_type 1.
func makeQxQuants(n, nmax int, x []float32, L []int8) float32 {
	var max, amax float32
	for i := 0; i < n; i++ {
		ax := x[i]
		if ax < 0 {
			ax = -ax
		}
		if ax > amax {
			amax = ax
			max = x[i]
		}
	}
	if amax < groupMaxEps {
		for i := 0; i < n; i++ {
			L[i] = 0
		}
		return 0
	}

	iscale := float32(-nmax) / max
	var sumlx, suml2 float32
	for i := 0; i < n; i++ {
		l := clampInt(nearestInt(iscale*x[i]), -nmax, nmax-1)
		L[i] = int8(l + nmax)
		w := x[i] * x[i]
		sumlx += w * x[i] * float32(l)
		suml2 += w * float32(l) * float32(l)
	}
	var scale float32
	if suml2 > 0 {
		scale = sumlx / suml2
	}
	best := scale * sumlx

	for is := -9; is <= 9; is++ {
		if is == 0 {
			continue
		}
		iscale = -(float32(nmax) + 0.1*float32(is)) / max
		var slx, sl2 float32
		for i := 0; i < n; i++ {
			l := clampInt(nearestInt(iscale*x[i]), -nmax, nmax-1)
			w := x[i] * x[i]
			slx += w * x[i] * float32(l)
			sl2 += w * float32(l) * float32(l)
		}
		if sl2 > 0 && slx*slx > best*sl2 {
			for i := 0; i < n; i++ {
				l := clampInt(nearestInt(iscale*x[i]), -nmax, nmax-1)
				L[i] = int8(l + nmax)
			}
			scale = slx / sl2
			best = scale * slx
		}
	}
	return scale
}

// makeQkxQuants fits scale and min for n weights against levels in
// [0, nmax], minimizing weighted squared error over a small grid of
// candidate scales. Mirrors ggml's make_qkx2_quants.
func makeQkxQuants(n, nmax int, x, weights []float32, L []uint8, rmin, rdelta float32, nstep int, useMad bool) (scale, theMin float32) {
	min, max := x[0], x[0]
	sumW := weights[0]
	sumX := weights[0] * x[0]
	for i := 1; i < n; i++ {
		if x[i] < min {
			min = x[i]
		}
		if x[i] > max {
			max = x[i]
		}
		sumW += weights[i]
		sumX += weights[i] * x[i]
	}
	if min > 0 {
		min = 0
	}
	if max == min {
		for i := 0; i < n; i++ {
			L[i] = 0
		}
		return 0, -min
	}

	iscale := float32(nmax) / (max - min)
	scale = 1 / iscale
	var bestErr float32
	for i := 0; i < n; i++ {
		l := clampInt(nearestInt(iscale*(x[i]-min)), 0, nmax)
		L[i] = uint8(l)
		diff := scale*float32(l) + min - x[i]
		if useMad {
			if diff < 0 {
				diff = -diff
			}
		} else {
			diff = diff * diff
		}
		bestErr += weights[i] * diff
	}
	if nstep < 1 {
		return scale, -min
	}

	laux := make([]uint8, n)
	for is := 0; is <= nstep; is++ {
		iscale = (rmin + rdelta*float32(is) + float32(nmax)) / (max - min)
		var sumL, sumL2, sumXL float32
		for i := 0; i < n; i++ {
			l := clampInt(nearestInt(iscale*(x[i]-min)), 0, nmax)
			laux[i] = uint8(l)
			w := weights[i]
			sumL += w * float32(l)
			sumL2 += w * float32(l) * float32(l)
			sumXL += w * float32(l) * x[i]
		}
		det := sumW*sumL2 - sumL*sumL
		if det <= 0 {
			continue
		}
		thisScale := (sumW*sumXL - sumX*sumL) / det
		thisMin := (sumL2*sumX - sumL*sumXL) / det
		if thisMin > 0 {
			thisMin = 0
			if sumL2 > 0 {
				thisScale = sumXL / sumL2
			}
		}
		var thisErr float32
		for i := 0; i < n; i++ {
			diff := thisScale*float32(laux[i]) + thisMin - x[i]
			if useMad {
				if diff < 0 {
					diff = -diff
				}
			} else {
				diff = diff * diff
			}
			thisErr += weights[i] * diff
		}
		if thisErr < bestErr {
			bestErr = thisErr
			copy(L, laux)
			scale = thisScale
			min = thisMin
		}
	}
	return scale, -min
}

func quantizeBlockQ2K(dst []byte, x []float32) {
	const nGroups = QKK / 16

	var (
		L       [QKK]uint8
		scales  [nGroups]float32
		mins    [nGroups]float32
		weights [16]float32
	)

	var maxScale, maxMin float32
	for j := 0; j < nGroups; j++ {
		g := x[16*j : 16*j+16]
		for l, v := range g {
			if v < 0 {
				weights[l] = -v
			} else {
				weights[l] = v
			}
		}
		scales[j], mins[j] = makeQkxQuants(16, 3, g, weights[:], L[16*j:], -0.5, 0.1, 15, true)
		if scales[j] > maxScale {
			maxScale = scales[j]
		}
		if mins[j] > maxMin {
			maxMin = mins[j]
		}
	}

	sc := dst[:16]
	qs := dst[16 : 16+64]

	const q4scale = 15.0
	var d, dmin float32
	if maxScale > 0 {
		d = maxScale / q4scale
		iscale := q4scale / maxScale
		for j := 0; j < nGroups; j++ {
			sc[j] = uint8(clampInt(nearestInt(iscale*scales[j]), 0, 15))
		}
	}
	if maxMin > 0 {
		dmin = maxMin / q4scale
		iscale := q4scale / maxMin
		for j := 0; j < nGroups; j++ {
			sc[j] |= uint8(clampInt(nearestInt(iscale*mins[j]), 0, 15)) << 4
		}
	}
	dh := ggml.FP32ToFP16(d)
	dmh := ggml.FP32ToFP16(dmin)
	putLeU16(dst[80:], dh)
	putLeU16(dst[82:], dmh)
	d = ggml.FP16ToFP32(dh)
	dmin = ggml.FP16ToFP32(dmh)

	// requantize against the rounded per-group scales
	for j := 0; j < nGroups; j++ {
		dj := d * float32(sc[j]&0x0F)
		if dj == 0 {
			for l := 0; l < 16; l++ {
				L[16*j+l] = 0
			}
			continue
		}
		mj := dmin * float32(sc[j]>>4)
		for l := 0; l < 16; l++ {
			L[16*j+l] = uint8(clampInt(nearestInt((x[16*j+l]+mj)/dj), 0, 3))
		}
	}

	for j := 0; j < QKK; j += 128 {
		q := qs[j/4 : j/4+32]
		for l := 0; l < 32; l++ {
			q[l] = L[j+l] | L[j+l+32]<<2 | L[j+l+64]<<4 | L[j+l+96]<<6
		}
	}
}

func dequantizeBlockQ2K(dst []float32, src []byte) {
	sc := src[:16]
	qs := src[16 : 16+64]
	d := ggml.FP16ToFP32(leU16(src[80:]))
	dmin := ggml.FP16ToFP32(leU16(src[82:]))

	is := 0
	yi := 0
	for n := 0; n < QKK; n += 128 {
		q := qs[n/4 : n/4+32]
		shift := uint(0)
		for j := 0; j < 4; j++ {
			dl := d * float32(sc[is]&0x0F)
			ml := dmin * float32(sc[is]>>4)
			is++
			for l := 0; l < 16; l++ {
				dst[yi] = dl*float32((q[l]>>shift)&3) - ml
				yi++
			}
			dl = d * float32(sc[is]&0x0F)
			ml = dmin * float32(sc[is]>>4)
			is++
			for l := 16; l < 32; l++ {
				dst[yi] = dl*float32((q[l]>>shift)&3) - ml
				yi++
			}
			shift += 2
		}
	}
}

func quantizeBlockQ3K(dst []byte, x []float32) {
	const nGroups = QKK / 16

	var (
		L      [QKK]int8
		scales [nGroups]float32
	)

	var maxAbsScale, maxScale float32
	for j := 0; j < nGroups; j++ {
		scales[j] = makeQxQuants(16, 4, x[16*j:16*j+16], L[16*j:])
		abs := scales[j]
		if abs < 0 {
			abs = -abs
		}
		if abs > maxAbsScale {
			maxAbsScale = abs
			maxScale = scales[j]
		}
	}

	hmask := dst[:32]
	qs := dst[32 : 32+64]
	scb := dst[96 : 96+12]
	for i := range scb {
		scb[i] = 0
	}
	for i := range hmask {
		hmask[i] = 0
	}

	var d float32
	if maxAbsScale >= groupMaxEps {
		iscale := -32 / maxScale
		d = 1 / iscale
		for j := 0; j < nGroups; j++ {
			l := clampInt(nearestInt(iscale*scales[j]), -32, 31) + 32
			if j < 8 {
				scb[j] |= uint8(l & 0x0F)
			} else {
				scb[j-8] |= uint8(l&0x0F) << 4
			}
			scb[8+j%4] |= uint8(l>>4) << (2 * uint(j/4))
		}
	}
	dh := ggml.FP32ToFP16(d)
	putLeU16(dst[108:], dh)
	d = ggml.FP16ToFP32(dh)

	// requantize against the rounded 6-bit scales
	for j := 0; j < nGroups; j++ {
		sc := int(unpackQ3Scale(scb, j)) - 32
		dj := d * float32(sc)
		if dj == 0 {
			for l := 0; l < 16; l++ {
				L[16*j+l] = 4
			}
			continue
		}
		for l := 0; l < 16; l++ {
			L[16*j+l] = int8(clampInt(nearestInt(x[16*j+l]/dj), -4, 3) + 4)
		}
	}

	// split the 3-bit levels into a high-bit mask and 2-bit planes
	m := 0
	hm := uint8(1)
	for j := 0; j < QKK; j++ {
		if L[j] > 3 {
			hmask[m] |= hm
			L[j] -= 4
		}
		m++
		if m == 32 {
			m = 0
			hm <<= 1
		}
	}
	for j := 0; j < QKK; j += 128 {
		q := qs[j/4 : j/4+32]
		for l := 0; l < 32; l++ {
			q[l] = uint8(L[j+l]) | uint8(L[j+l+32])<<2 | uint8(L[j+l+64])<<4 | uint8(L[j+l+96])<<6
		}
	}
}

// unpackQ3Scale extracts the j-th 6-bit scale (0..63) from the q3_k packing.
func unpackQ3Scale(scb []byte, j int) uint8 {
	var lo uint8
	if j < 8 {
		lo = scb[j] & 0x0F
	} else {
		lo = scb[j-8] >> 4
	}
	hi := (scb[8+j%4] >> (2 * uint(j/4))) & 3
	return lo | hi<<4
}

func dequantizeBlockQ3K(dst []float32, src []byte) {
	hmask := src[:32]
	qs := src[32 : 32+64]
	scb := src[96 : 96+12]
	d := ggml.FP16ToFP32(leU16(src[108:]))

	is := 0
	yi := 0
	m := uint8(1)
	for n := 0; n < QKK; n += 128 {
		q := qs[n/4 : n/4+32]
		shift := uint(0)
		for j := 0; j < 4; j++ {
			dl := d * float32(int(unpackQ3Scale(scb, is))-32)
			is++
			for l := 0; l < 16; l++ {
				v := int8((q[l] >> shift) & 3)
				if hmask[l]&m == 0 {
					v -= 4
				}
				dst[yi] = dl * float32(v)
				yi++
			}
			dl = d * float32(int(unpackQ3Scale(scb, is))-32)
			is++
			for l := 16; l < 32; l++ {
				v := int8((q[l] >> shift) & 3)
				if hmask[l]&m == 0 {
					v -= 4
				}
				dst[yi] = dl * float32(v)
				yi++
			}
			shift += 2
			m <<= 1
		}
	}
}

// packScaleMinK4 stores a 6-bit (scale, min) pair for group j into the
// 12-byte q4_k/q5_k scale area; getScaleMinK4 is its inverse.
func packScaleMinK4(scb []byte, j, ls, lm int) {
	if j < 4 {
		scb[j] = uint8(ls)
		scb[j+4] = uint8(lm)
	} else {
		scb[j+4] = uint8(ls&0x0F) | uint8(lm&0x0F)<<4
		scb[j-4] |= uint8(ls>>4) << 6
		scb[j] |= uint8(lm>>4) << 6
	}
}

func getScaleMinK4(j int, scb []byte) (uint8, uint8) {
	if j < 4 {
		return scb[j] & 63, scb[j+4] & 63
	}
	d := (scb[j+4] & 0x0F) | ((scb[j-4] >> 6) << 4)
	m := (scb[j+4] >> 4) | ((scb[j] >> 6) << 4)
	return d, m
}

// groupWeights fills w with av_x + |g[l]| where av_x is the RMS of the
// group, the importance weighting the reference q4_k/q5_k quantizers use.
func groupWeights(g []float32, w []float32) {
	var sumX2 float32
	for _, v := range g {
		sumX2 += v * v
	}
	avX := float32(math.Sqrt(float64(sumX2 / float32(len(g)))))
	for l, v := range g {
		if v < 0 {
			v = -v
		}
		w[l] = avX + v
	}
}

func quantizeBlockQ4K(dst []byte, x []float32) {
	const nGroups = QKK / 32

	var (
		L       [QKK]uint8
		scales  [nGroups]float32
		mins    [nGroups]float32
		weights [32]float32
	)

	var maxScale, maxMin float32
	for j := 0; j < nGroups; j++ {
		g := x[32*j : 32*j+32]
		groupWeights(g, weights[:])
		scales[j], mins[j] = makeQkxQuants(32, 15, g, weights[:], L[32*j:], -1.0, 0.1, 20, false)
		if scales[j] > maxScale {
			maxScale = scales[j]
		}
		if mins[j] > maxMin {
			maxMin = mins[j]
		}
	}

	scb := dst[4 : 4+12]
	qs := dst[16:]
	for i := range scb {
		scb[i] = 0
	}

	var invScale, invMin float32
	if maxScale > 0 {
		invScale = 63 / maxScale
	}
	if maxMin > 0 {
		invMin = 63 / maxMin
	}
	for j := 0; j < nGroups; j++ {
		ls := clampInt(nearestInt(invScale*scales[j]), 0, 63)
		lm := clampInt(nearestInt(invMin*mins[j]), 0, 63)
		packScaleMinK4(scb, j, ls, lm)
	}
	dh := ggml.FP32ToFP16(maxScale / 63)
	dmh := ggml.FP32ToFP16(maxMin / 63)
	putLeU16(dst, dh)
	putLeU16(dst[2:], dmh)
	d := ggml.FP16ToFP32(dh)
	dmin := ggml.FP16ToFP32(dmh)

	for j := 0; j < nGroups; j++ {
		sc, mn := getScaleMinK4(j, scb)
		dj := d * float32(sc)
		if dj == 0 {
			continue
		}
		mj := dmin * float32(mn)
		for l := 0; l < 32; l++ {
			L[32*j+l] = uint8(clampInt(nearestInt((x[32*j+l]+mj)/dj), 0, 15))
		}
	}

	for j := 0; j < QKK; j += 64 {
		q := qs[j/2 : j/2+32]
		for l := 0; l < 32; l++ {
			q[l] = L[j+l] | L[j+l+32]<<4
		}
	}
}

func dequantizeBlockQ4K(dst []float32, src []byte) {
	d := ggml.FP16ToFP32(leU16(src))
	dmin := ggml.FP16ToFP32(leU16(src[2:]))
	scb := src[4 : 4+12]
	qs := src[16:]

	yi := 0
	is := 0
	for j := 0; j < QKK; j += 64 {
		q := qs[j/2 : j/2+32]
		sc1, m1 := getScaleMinK4(is, scb)
		sc2, m2 := getScaleMinK4(is+1, scb)
		d1, mm1 := d*float32(sc1), dmin*float32(m1)
		d2, mm2 := d*float32(sc2), dmin*float32(m2)
		for l := 0; l < 32; l++ {
			dst[yi] = d1*float32(q[l]&0x0F) - mm1
			yi++
		}
		for l := 0; l < 32; l++ {
			dst[yi] = d2*float32(q[l]>>4) - mm2
			yi++
		}
		is += 2
	}
}

func quantizeBlockQ5K(dst []byte, x []float32) {
	const nGroups = QKK / 32

	var (
		L       [QKK]uint8
		scales  [nGroups]float32
		mins    [nGroups]float32
		weights [32]float32
	)

	var maxScale, maxMin float32
	for j := 0; j < nGroups; j++ {
		g := x[32*j : 32*j+32]
		groupWeights(g, weights[:])
		scales[j], mins[j] = makeQkxQuants(32, 31, g, weights[:], L[32*j:], -0.5, 0.1, 15, false)
		if scales[j] > maxScale {
			maxScale = scales[j]
		}
		if mins[j] > maxMin {
			maxMin = mins[j]
		}
	}

	scb := dst[4 : 4+12]
	qh := dst[16 : 16+32]
	ql := dst[48:]
	for i := range scb {
		scb[i] = 0
	}
	for i := range qh {
		qh[i] = 0
	}

	var invScale, invMin float32
	if maxScale > 0 {
		invScale = 63 / maxScale
	}
	if maxMin > 0 {
		invMin = 63 / maxMin
	}
	for j := 0; j < nGroups; j++ {
		ls := clampInt(nearestInt(invScale*scales[j]), 0, 63)
		lm := clampInt(nearestInt(invMin*mins[j]), 0, 63)
		packScaleMinK4(scb, j, ls, lm)
	}
	dh := ggml.FP32ToFP16(maxScale / 63)
	dmh := ggml.FP32ToFP16(maxMin / 63)
	putLeU16(dst, dh)
	putLeU16(dst[2:], dmh)
	d := ggml.FP16ToFP32(dh)
	dmin := ggml.FP16ToFP32(dmh)

	for j := 0; j < nGroups; j++ {
		sc, mn := getScaleMinK4(j, scb)
		dj := d * float32(sc)
		if dj == 0 {
			continue
		}
		mj := dmin * float32(mn)
		for l := 0; l < 32; l++ {
			L[32*j+l] = uint8(clampInt(nearestInt((x[32*j+l]+mj)/dj), 0, 31))
		}
	}

	u1, u2 := uint8(1), uint8(2)
	for j := 0; j < QKK; j += 64 {
		q := ql[j/2 : j/2+32]
		for l := 0; l < 32; l++ {
			l1, l2 := L[j+l], L[j+l+32]
			if l1 > 15 {
				l1 -= 16
				qh[l] |= u1
			}
			if l2 > 15 {
				l2 -= 16
				qh[l] |= u2
			}
			q[l] = l1 | l2<<4
		}
		u1 <<= 2
		u2 <<= 2
	}
}

func dequantizeBlockQ5K(dst []float32, src []byte) {
	d := ggml.FP16ToFP32(leU16(src))
	dmin := ggml.FP16ToFP32(leU16(src[2:]))
	scb := src[4 : 4+12]
	qh := src[16 : 16+32]
	ql := src[48:]

	yi := 0
	is := 0
	u1, u2 := uint8(1), uint8(2)
	for j := 0; j < QKK; j += 64 {
		q := ql[j/2 : j/2+32]
		sc1, m1 := getScaleMinK4(is, scb)
		sc2, m2 := getScaleMinK4(is+1, scb)
		d1, mm1 := d*float32(sc1), dmin*float32(m1)
		d2, mm2 := d*float32(sc2), dmin*float32(m2)
		for l := 0; l < 32; l++ {
			v := float32(q[l] & 0x0F)
			if qh[l]&u1 != 0 {
				v += 16
			}
			dst[yi] = d1*v - mm1
			yi++
		}
		for l := 0; l < 32; l++ {
			v := float32(q[l] >> 4)
			if qh[l]&u2 != 0 {
				v += 16
			}
			dst[yi] = d2*v - mm2
			yi++
		}
		is += 2
		u1 <<= 2
		u2 <<= 2
	}
}

func quantizeBlockQ6K(dst []byte, x []float32) {
	const nGroups = QKK / 16

	var (
		L      [QKK]int8
		scales [nGroups]float32
	)

	var maxAbsScale, maxScale float32
	for j := 0; j < nGroups; j++ {
		scales[j] = makeQxQuants(16, 32, x[16*j:16*j+16], L[16*j:])
		abs := scales[j]
		if abs < 0 {
			abs = -abs
		}
		if abs > maxAbsScale {
			maxAbsScale = abs
			maxScale = scales[j]
		}
	}

	ql := dst[:128]
	qh := dst[128 : 128+64]
	scb := dst[192 : 192+16]

	if maxAbsScale < groupMaxEps {
		for i := range dst {
			dst[i] = 0
		}
		return
	}

	iscale := -128 / maxScale
	d := 1 / iscale
	dh := ggml.FP32ToFP16(d)
	putLeU16(dst[208:], dh)
	d = ggml.FP16ToFP32(dh)
	for j := 0; j < nGroups; j++ {
		scb[j] = uint8(int8(clampInt(nearestInt(iscale*scales[j]), -128, 127)))
	}

	for j := 0; j < nGroups; j++ {
		dj := d * float32(int8(scb[j]))
		if dj == 0 {
			for l := 0; l < 16; l++ {
				L[16*j+l] = 32
			}
			continue
		}
		for l := 0; l < 16; l++ {
			L[16*j+l] = int8(clampInt(nearestInt(x[16*j+l]/dj), -32, 31) + 32)
		}
	}

	for j := 0; j < QKK; j += 128 {
		lo := ql[j/2 : j/2+64]
		hi := qh[j/4 : j/4+32]
		for l := 0; l < 32; l++ {
			q1 := uint8(L[j+l])
			q2 := uint8(L[j+l+32])
			q3 := uint8(L[j+l+64])
			q4 := uint8(L[j+l+96])
			lo[l] = q1&0x0F | (q3&0x0F)<<4
			lo[l+32] = q2&0x0F | (q4&0x0F)<<4
			hi[l] = q1>>4 | (q2>>4)<<2 | (q3>>4)<<4 | (q4>>4)<<6
		}
	}
}

func dequantizeBlockQ6K(dst []float32, src []byte) {
	ql := src[:128]
	qh := src[128 : 128+64]
	scb := src[192 : 192+16]
	d := ggml.FP16ToFP32(leU16(src[208:]))

	for n := 0; n < QKK; n += 128 {
		lo := ql[n/2 : n/2+64]
		hi := qh[n/4 : n/4+32]
		sc := scb[n/16 : n/16+8]
		for l := 0; l < 32; l++ {
			is := l / 16
			q1 := int8(lo[l]&0x0F|((hi[l]>>0)&3)<<4) - 32
			q2 := int8(lo[l+32]&0x0F|((hi[l]>>2)&3)<<4) - 32
			q3 := int8(lo[l]>>4|((hi[l]>>4)&3)<<4) - 32
			q4 := int8(lo[l+32]>>4|((hi[l]>>6)&3)<<4) - 32
			dst[n+l] = d * float32(int8(sc[is])) * float32(q1)
			dst[n+l+32] = d * float32(int8(sc[is+2])) * float32(q2)
			dst[n+l+64] = d * float32(int8(sc[is+4])) * float32(q3)
			dst[n+l+96] = d * float32(int8(sc[is+6])) * float32(q4)
		}
	}
}
