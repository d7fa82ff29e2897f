package calib

import (
	"fmt"
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA premultiplies alpha; canvas expects premultiplied colors.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// ReportRenderer draws a calibration outcome as a vector image: each target
// ring with the mean left (yellow) and right (red) gaze lines, the same
// picture the review screen shows. Coordinates are screen pixels.
type ReportRenderer struct {
	Points     []AggregatedPoint
	Resolution Resolution
	// Highlight marks a target key, typically Score.WorstKey.
	Highlight string
	// PNGResolution is the raster density; 25.4 DPI keeps one image pixel per
	// screen pixel.
	PNGResolution canvas.Resolution
}

// NewReportRenderer creates a report renderer for an outcome's points.
func NewReportRenderer(points []AggregatedPoint, res Resolution) *ReportRenderer {
	return &ReportRenderer{
		Points:        points,
		Resolution:    res,
		PNGResolution: canvas.DPI(25.4),
	}
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *ReportRenderer) size() (float64, float64, error) {
	if r.Resolution.Width <= 0 || r.Resolution.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: report resolution %dx%d", ErrRangeViolation, r.Resolution.Width, r.Resolution.Height)
	}
	return float64(r.Resolution.Width), float64(r.Resolution.Height), nil
}

// RenderToSVG writes the report as SVG.
func (r *ReportRenderer) RenderToSVG(w io.Writer) error {
	width, height, err := r.size()
	if err != nil {
		return err
	}

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the report as PNG.
func (r *ReportRenderer) RenderToPNG(w io.Writer) error {
	width, height, err := r.size()
	if err != nil {
		return err
	}

	rast := rasterizer.New(width, height, r.PNGResolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)
	return png.Encode(w, rast)
}

func (r *ReportRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(ColorBackground)}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Pixel coordinates are centered with +Y up; canvas has its origin at the
	// bottom left, also +Y up.
	toCanvas := func(p PixelPoint) (float64, float64) {
		return float64(p.X) + width/2, float64(p.Y) + height/2
	}

	for _, p := range r.Points {
		tx, ty := toCanvas(p.Target)

		ring := ColorWhite
		if p.Key != "" && p.Key == r.Highlight {
			ring = ColorRed
		}
		ringStyle := canvas.DefaultStyle
		ringStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		ringStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(ring)}
		ringStyle.StrokeWidth = 3.0
		renderer.RenderPath(canvas.Circle(LargeRadius).Translate(tx, ty), ringStyle, canvas.Identity)

		for _, gaze := range []struct {
			mean PixelPoint
			c    color.NRGBA
		}{
			{p.MeanLeft, ColorYellow},
			{p.MeanRight, ColorRed},
		} {
			gx, gy := toCanvas(gaze.mean)
			lineStyle := canvas.DefaultStyle
			lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			lineStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(gaze.c)}
			lineStyle.StrokeWidth = 6.0
			line := &canvas.Path{}
			line.MoveTo(tx, ty)
			line.LineTo(gx, gy)
			renderer.RenderPath(line, lineStyle, canvas.Identity)
		}

		// Target centre dot; labels appear on the review screen only.
		dotStyle := canvas.DefaultStyle
		dotStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(ColorTrackBox)}
		dotStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		renderer.RenderPath(canvas.Circle(SmallRadius).Translate(tx, ty), dotStyle, canvas.Identity)
	}
}
