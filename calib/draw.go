package calib

import "image/color"

// ShapeKind selects what a DrawCommand draws.
type ShapeKind int

const (
	ShapeCircle ShapeKind = iota
	ShapeLine
	ShapeRect
	ShapeText
	ShapeCross
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeCircle:
		return "circle"
	case ShapeLine:
		return "line"
	case ShapeRect:
		return "rect"
	case ShapeText:
		return "text"
	case ShapeCross:
		return "cross"
	default:
		return "unknown"
	}
}

func (k ShapeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Units says how a command's coordinates are measured. Pixel coordinates are
// centered on the screen with +Y up; norm coordinates span [-1,1] across the
// window with +Y up.
type Units int

const (
	UnitsPixels Units = iota
	UnitsNorm
)

func (u Units) MarshalText() ([]byte, error) {
	if u == UnitsNorm {
		return []byte("norm"), nil
	}
	return []byte("pix"), nil
}

// DrawCommand is one primitive on the calibration screen.
type DrawCommand struct {
	Kind       ShapeKind   `json:"kind"`
	Units      Units       `json:"units"`
	Pos        Point       `json:"pos"`
	End        Point       `json:"end,omitempty"`
	Radius     float64     `json:"radius,omitempty"`
	Width      float64     `json:"width,omitempty"`
	Height     float64     `json:"height,omitempty"`
	LineWidth  float64     `json:"lineWidth,omitempty"`
	Line       color.NRGBA `json:"line"`
	Fill       color.NRGBA `json:"fill"`
	Text       string      `json:"text,omitempty"`
	TextHeight float64     `json:"textHeight,omitempty"`
}

// Screen palette
var (
	ColorBackground  = color.NRGBA{179, 179, 179, 255}
	ColorTrackBox    = color.NRGBA{128, 128, 128, 255}
	ColorTransparent = color.NRGBA{0, 0, 0, 0}
	ColorWhite       = color.NRGBA{255, 255, 255, 255}
	ColorRed         = color.NRGBA{255, 0, 0, 255}
	ColorGreen       = color.NRGBA{0, 255, 0, 255}
	ColorYellow      = color.NRGBA{255, 255, 0, 255}
	ColorLabel       = color.NRGBA{230, 230, 230, 255}
	ColorGazeLine    = color.NRGBA{255, 249, 128, 255}
	ColorGazeFill    = color.NRGBA{255, 255, 198, 255}
)

// Circle draws a circle in pixel units.
func Circle(pos Point, radius float64, line, fill color.NRGBA) DrawCommand {
	return DrawCommand{Kind: ShapeCircle, Units: UnitsPixels, Pos: pos, Radius: radius, LineWidth: 1, Line: line, Fill: fill}
}

// Line draws a straight segment in pixel units.
func Line(start, end Point, width float64, c color.NRGBA) DrawCommand {
	return DrawCommand{Kind: ShapeLine, Units: UnitsPixels, Pos: start, End: end, LineWidth: width, Line: c}
}

// Text draws a label centered on pos in pixel units.
func Text(pos Point, text string, height float64, c color.NRGBA) DrawCommand {
	return DrawCommand{Kind: ShapeText, Units: UnitsPixels, Pos: pos, Text: text, TextHeight: height, Fill: c}
}

// Message is the centered instruction text used between screens.
func Message(text string) DrawCommand {
	return DrawCommand{Kind: ShapeText, Units: UnitsNorm, Text: text, TextHeight: 0.07, Fill: ColorWhite}
}

// FixationCross is the "+" shown before a calibration round.
func FixationCross() DrawCommand {
	return DrawCommand{Kind: ShapeCross, Units: UnitsNorm, Width: 0.1, LineWidth: 3, Line: ColorWhite}
}

// showMessage draws text on an otherwise empty frame and presents it.
func showMessage(r Renderer, text string) error {
	r.Draw(Message(text))
	return r.Flip()
}
