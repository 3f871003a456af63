package compositor

import "image"

// boxBlur applies three passes of a separable box blur, which approximates a
// gaussian closely enough for a background fill.
func boxBlur(src *image.RGBA, radius int) *image.RGBA {
	if radius <= 0 {
		return src
	}
	out := src
	for pass := 0; pass < 3; pass++ {
		out = blurVertical(blurHorizontal(out, radius), radius)
	}
	return out
}

func blurHorizontal(src *image.RGBA, radius int) *image.RGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(bounds)
	window := 2*radius + 1

	for y := 0; y < h; y++ {
		var sumR, sumG, sumB, sumA int
		for x := -radius; x <= radius; x++ {
			r, g, b, a := pixelAt(src, clamp(x, w), y)
			sumR += r
			sumG += g
			sumB += b
			sumA += a
		}
		for x := 0; x < w; x++ {
			setPixel(out, x, y, sumR/window, sumG/window, sumB/window, sumA/window)
			rOut, gOut, bOut, aOut := pixelAt(src, clamp(x-radius, w), y)
			rIn, gIn, bIn, aIn := pixelAt(src, clamp(x+radius+1, w), y)
			sumR += rIn - rOut
			sumG += gIn - gOut
			sumB += bIn - bOut
			sumA += aIn - aOut
		}
	}
	return out
}

func blurVertical(src *image.RGBA, radius int) *image.RGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(bounds)
	window := 2*radius + 1

	for x := 0; x < w; x++ {
		var sumR, sumG, sumB, sumA int
		for y := -radius; y <= radius; y++ {
			r, g, b, a := pixelAt(src, x, clamp(y, h))
			sumR += r
			sumG += g
			sumB += b
			sumA += a
		}
		for y := 0; y < h; y++ {
			setPixel(out, x, y, sumR/window, sumG/window, sumB/window, sumA/window)
			rOut, gOut, bOut, aOut := pixelAt(src, x, clamp(y-radius, h))
			rIn, gIn, bIn, aIn := pixelAt(src, x, clamp(y+radius+1, h))
			sumR += rIn - rOut
			sumG += gIn - gOut
			sumB += bIn - bOut
			sumA += aIn - aOut
		}
	}
	return out
}

func pixelAt(img *image.RGBA, x, y int) (int, int, int, int) {
	i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	return int(img.Pix[i]), int(img.Pix[i+1]), int(img.Pix[i+2]), int(img.Pix[i+3])
}

func setPixel(img *image.RGBA, x, y, r, g, b, a int) {
	i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	img.Pix[i] = uint8(r)
	img.Pix[i+1] = uint8(g)
	img.Pix[i+2] = uint8(b)
	img.Pix[i+3] = uint8(a)
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v >= max {
		return max - 1
	}
	return v
}
