// Package compositor fits source images into target aspect ratios ahead of
// provider submission. The chain is crop-resize for near matches, AI
// outpainting when configured, and a blur-fill fallback that always yields a
// correctly sized image.
package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/google/uuid"

	"studio/internal/infra"
	"studio/internal/providers"
	"studio/internal/storage"
)

// aspectTolerance is the relative aspect-ratio delta below which a plain
// cover crop is considered lossless enough.
const aspectTolerance = 0.05

// maskErosionPx shrinks the preserved region of the outpaint mask so the
// fill overlaps the source border and hides seams.
const maskErosionPx = 8

// Compositor implements the fitting chain. The outpainter and store are
// optional; without them the chain degrades straight to blur-fill.
type Compositor struct {
	outpainter providers.Outpainter
	store      storage.Store
	logger     infra.Logger
}

// New constructs a Compositor.
func New(outpainter providers.Outpainter, store storage.Store, logger infra.Logger) *Compositor {
	return &Compositor{outpainter: outpainter, store: store, logger: logger}
}

// Fit returns a PNG of exactly targetW x targetH derived from src. Only an
// undecodable source or invalid dimensions produce an error; every provider
// failure inside the chain is demoted to the blur-fill fallback.
func (c *Compositor) Fit(ctx context.Context, src []byte, targetW, targetH int) ([]byte, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("compositor: invalid target dimensions %dx%d", targetW, targetH)
	}
	decoded, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("compositor: decode source: %w", err)
	}

	bounds := decoded.Bounds()
	srcRatio := float64(bounds.Dx()) / float64(bounds.Dy())
	targetRatio := float64(targetW) / float64(targetH)
	if math.Abs(srcRatio/targetRatio-1) <= aspectTolerance {
		return encodePNG(coverResize(decoded, targetW, targetH))
	}

	out, err := c.outpaint(ctx, decoded, targetW, targetH)
	if err == nil {
		return out, nil
	}
	c.logger.Warn().Err(err).Int("width", targetW).Int("height", targetH).Msg("compositor: outpaint unavailable, using blur fill")

	return encodePNG(blurFill(decoded, targetW, targetH))
}

// outpaint uploads the inset canvas and mask, runs the fill provider, and
// normalizes the result to the exact target dimensions.
func (c *Compositor) outpaint(ctx context.Context, src image.Image, targetW, targetH int) ([]byte, error) {
	if c.outpainter == nil || c.store == nil {
		return nil, fmt.Errorf("compositor: outpainting not configured")
	}
	canvas, mask := buildCanvasAndMask(src, targetW, targetH)
	canvasPNG, err := encodePNG(canvas)
	if err != nil {
		return nil, err
	}
	maskPNG, err := encodePNG(mask)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	canvasKey, err := c.store.Write(ctx, "tmp/outpaint/"+token+"/canvas.png", canvasPNG)
	if err != nil {
		return nil, fmt.Errorf("compositor: upload canvas: %w", err)
	}
	maskKey, err := c.store.Write(ctx, "tmp/outpaint/"+token+"/mask.png", maskPNG)
	if err != nil {
		return nil, fmt.Errorf("compositor: upload mask: %w", err)
	}

	resultURL, err := c.outpainter.Expand(ctx, c.store.PublicURL(canvasKey), c.store.PublicURL(maskKey), "extend the background naturally")
	if err != nil {
		return nil, err
	}

	resultKey, err := c.store.Mirror(ctx, resultURL, "tmp/outpaint/"+token+"/result.png")
	if err != nil {
		return nil, fmt.Errorf("compositor: mirror result: %w", err)
	}
	data, err := c.store.Read(ctx, resultKey)
	if err != nil {
		return nil, fmt.Errorf("compositor: read result: %w", err)
	}
	result, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compositor: decode result: %w", err)
	}
	// Providers occasionally return off-by-a-few dimensions; normalize.
	if result.Bounds().Dx() != targetW || result.Bounds().Dy() != targetH {
		result = coverResize(result, targetW, targetH)
	}
	return encodePNG(result)
}

// buildCanvasAndMask places the source contain-fit centered on a target-sized
// canvas and produces the companion mask: white where the provider should
// fill, black over the preserved region eroded by maskErosionPx.
func buildCanvasAndMask(src image.Image, targetW, targetH int) (image.Image, image.Image) {
	inset := containRect(src.Bounds(), targetW, targetH)

	canvas := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	xdraw.CatmullRom.Scale(canvas, inset, src, src.Bounds(), xdraw.Src, nil)

	mask := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(mask, mask.Bounds(), image.White, image.Point{}, draw.Src)
	preserved := inset.Inset(maskErosionPx)
	if !preserved.Empty() {
		draw.Draw(mask, preserved, image.Black, image.Point{}, draw.Src)
	}
	return canvas, mask
}

// blurFill renders the source cover-resized and heavily blurred as the
// background, with the contain-fit source composited centered on top.
func blurFill(src image.Image, targetW, targetH int) image.Image {
	background := coverResize(src, targetW, targetH)
	radius := targetW / 40
	if r := targetH / 40; r > radius {
		radius = r
	}
	if radius < 8 {
		radius = 8
	}
	blurred := boxBlur(background, radius)

	out := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(out, out.Bounds(), blurred, image.Point{}, draw.Src)

	inset := containRect(src.Bounds(), targetW, targetH)
	xdraw.CatmullRom.Scale(out, inset, src, src.Bounds(), xdraw.Over, nil)
	return out
}

// coverResize scales preserving aspect ratio so the image covers the target,
// then center-crops.
func coverResize(src image.Image, targetW, targetH int) *image.RGBA {
	bounds := src.Bounds()
	scale := math.Max(
		float64(targetW)/float64(bounds.Dx()),
		float64(targetH)/float64(bounds.Dy()),
	)
	scaledW := int(math.Ceil(float64(bounds.Dx()) * scale))
	scaledH := int(math.Ceil(float64(bounds.Dy()) * scale))

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, xdraw.Src, nil)

	out := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	offset := image.Pt((scaledW-targetW)/2, (scaledH-targetH)/2)
	draw.Draw(out, out.Bounds(), scaled, offset, draw.Src)
	return out
}

// containRect computes the centered rectangle of a contain-fit of srcBounds
// within the target dimensions.
func containRect(srcBounds image.Rectangle, targetW, targetH int) image.Rectangle {
	scale := math.Min(
		float64(targetW)/float64(srcBounds.Dx()),
		float64(targetH)/float64(srcBounds.Dy()),
	)
	w := int(float64(srcBounds.Dx()) * scale)
	h := int(float64(srcBounds.Dy()) * scale)
	x := (targetW - w) / 2
	y := (targetH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("compositor: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
