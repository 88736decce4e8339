package colorproc

// resamplePlane applies a separable 2-tap bilinear resize of one
// interleaved-channel plane into a sub-rectangle of a (possibly larger,
// letterboxed) destination canvas. dstStride is the full canvas row
// width in pixels; offX/offY place the top-left of the resized content
// within it.
func resamplePlane(src []byte, srcW, srcH int, dst []byte, dstStride, offX, offY, channels int, tab *planeTables) {
	if tab == nil {
		return
	}
	contentW, contentH := len(tab.hx), len(tab.vy)
	srcStride := srcW * channels
	dstRowBytes := dstStride * channels

	for y := 0; y < contentH; y++ {
		vt := tab.vy[y]
		row0 := vt.off[0] * srcStride
		row1 := vt.off[1] * srcStride
		wv0, wv1 := vt.weight[0], vt.weight[1]

		dstOff := (y+offY)*dstRowBytes + offX*channels
		dstRow := dst[dstOff : dstOff+contentW*channels]
		for x := 0; x < contentW; x++ {
			ht := tab.hx[x]
			c0 := ht.off[0] * channels
			c1 := ht.off[1] * channels
			wh0, wh1 := ht.weight[0], ht.weight[1]

			for c := 0; c < channels; c++ {
				p00 := uint32(src[row0+c0+c])
				p01 := uint32(src[row0+c1+c])
				p10 := uint32(src[row1+c0+c])
				p11 := uint32(src[row1+c1+c])

				top := p00*wh0 + p01*wh1
				bot := p10*wh0 + p11*wh1
				sum := top*wv0 + bot*wv1 // Q20
				dstRow[x*channels+c] = byte(sum >> 20)
			}
		}
	}
}

func fill(dst []byte, v byte) {
	for i := range dst {
		dst[i] = v
	}
}

// scalePacked resizes one packed BGR/BGRA frame from plan's source
// dimensions into its output canvas. When the source and content sizes
// match and there is no letterbox border, it degenerates to a straight
// byte copy — the same path an unscaled BGRA capture takes.
func scalePacked(src, dst []byte, plan *streamScaleState, bpp int) {
	srcW, srcH := int(plan.info.Width), int(plan.info.Height)

	if !plan.letterboxed && srcW == plan.contentW && srcH == plan.contentH {
		n := srcW * srcH * bpp
		if n > len(dst) {
			n = len(dst)
		}
		if n > len(src) {
			n = len(src)
		}
		copy(dst, src[:n])
		return
	}

	if plan.letterboxed {
		fill(dst, 0)
	}
	resamplePlane(src, srcW, srcH, dst, plan.outW, plan.offX, plan.offY, bpp, plan.luma)
}

// scaleYCbCr resizes a YCbCr-4:2:0-JPEG-planar frame into its output
// canvas: the luma plane resamples at full resolution, the two chroma
// planes at half resolution using the plan's chroma tables. A
// letterboxed canvas is cleared to luma 0 / chroma 128 (black) before
// the content is blitted into its centered sub-rectangle.
func scaleYCbCr(src, dst []byte, plan *streamScaleState) {
	srcW, srcH := int(plan.info.Width), int(plan.info.Height)
	srcCW, srcCH := srcW/2, srcH/2

	outCW, outCH := plan.outW/2, plan.outH/2
	ySize := srcW * srcH
	cSize := srcCW * srcCH
	dYSize := plan.outW * plan.outH
	dCSize := outCW * outCH

	if ySize+2*cSize > len(src) || dYSize+2*dCSize > len(dst) {
		return
	}

	ySrc := src[:ySize]
	cbSrc := src[ySize : ySize+cSize]
	crSrc := src[ySize+cSize : ySize+2*cSize]

	yDst := dst[:dYSize]
	cbDst := dst[dYSize : dYSize+dCSize]
	crDst := dst[dYSize+dCSize : dYSize+2*dCSize]

	if plan.letterboxed {
		fill(yDst, 0)
		fill(cbDst, 128)
		fill(crDst, 128)
	}

	resamplePlane(ySrc, srcW, srcH, yDst, plan.outW, plan.offX, plan.offY, 1, plan.luma)
	resamplePlane(cbSrc, srcCW, srcCH, cbDst, outCW, plan.offX/2, plan.offY/2, 1, plan.chroma)
	resamplePlane(crSrc, srcCW, srcCH, crDst, outCW, plan.offX/2, plan.offY/2, 1, plan.chroma)
}
