package imaging

import (
	"image"
	"image/color"
	"math"
)

const histBins = 256

// EqualizeLuminance applies contrast limited adaptive histogram equalization
// to the luma channel of img in place. Chroma is left untouched.
func EqualizeLuminance(img *image.RGBA, clipLimit float64, tiles int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}

	n := w * h
	lum := make([]uint8, n)
	cb := make([]uint8, n)
	cr := make([]uint8, n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			lum[i], cb[i], cr[i] = color.RGBToYCbCr(img.Pix[o], img.Pix[o+1], img.Pix[o+2])
		}
	}

	out := clahe(lum, w, h, clipLimit, tiles)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = color.YCbCrToRGB(out[i], cb[i], cr[i])
		}
	}
}

func clahe(src []uint8, w, h int, clipLimit float64, tiles int) []uint8 {
	tx := max(1, min(tiles, w))
	ty := max(1, min(tiles, h))
	tileW := float64(w) / float64(tx)
	tileH := float64(h) / float64(ty)

	luts := make([][histBins]uint8, tx*ty)
	for j := 0; j < ty; j++ {
		y0, y1 := int(float64(j)*tileH), int(float64(j+1)*tileH)
		for i := 0; i < tx; i++ {
			x0, x1 := int(float64(i)*tileW), int(float64(i+1)*tileW)
			luts[j*tx+i] = tileLUT(src, w, x0, y0, x1, y1, clipLimit)
		}
	}

	out := make([]uint8, len(src))
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/tileH - 0.5
		y1 := int(math.Floor(fy))
		ya := fy - float64(y1)
		y2 := y1 + 1
		y1, y2 = clampIdx(y1, ty), clampIdx(y2, ty)

		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/tileW - 0.5
			x1 := int(math.Floor(fx))
			xa := fx - float64(x1)
			x2 := x1 + 1
			x1, x2 = clampIdx(x1, tx), clampIdx(x2, tx)

			v := src[y*w+x]
			top := (1-xa)*float64(luts[y1*tx+x1][v]) + xa*float64(luts[y1*tx+x2][v])
			bot := (1-xa)*float64(luts[y2*tx+x1][v]) + xa*float64(luts[y2*tx+x2][v])
			out[y*w+x] = uint8(math.Round(math.Min(255, (1-ya)*top+ya*bot)))
		}
	}
	return out
}

// tileLUT builds the clipped equalization mapping for one tile.
func tileLUT(src []uint8, stride, x0, y0, x1, y1 int, clipLimit float64) [histBins]uint8 {
	var hist [histBins]int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[src[y*stride+x]]++
		}
	}

	area := (x1 - x0) * (y1 - y0)
	var lut [histBins]uint8
	if area == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	if clipLimit > 0 {
		limit := max(1, int(clipLimit*float64(area)/histBins))
		excess := 0
		for i := range hist {
			if hist[i] > limit {
				excess += hist[i] - limit
				hist[i] = limit
			}
		}
		inc := excess / histBins
		rem := excess - inc*histBins
		for i := range hist {
			hist[i] += inc
		}
		if rem > 0 {
			step := max(1, histBins/rem)
			for i := 0; i < histBins && rem > 0; i += step {
				hist[i]++
				rem--
			}
		}
	}

	scale := float64(histBins-1) / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = uint8(math.Min(255, math.Round(float64(sum)*scale)))
	}
	return lut
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
