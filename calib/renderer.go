package calib

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrScriptExhausted is returned by SnapshotRenderer.Flip when a screen keeps
// waiting for input after the scripted keys ran out.
var ErrScriptExhausted = errors.New("calib: scripted keys exhausted")

// DefaultMaxIdlePolls is how many unanswered key polls a SnapshotRenderer
// tolerates once its script is empty.
const DefaultMaxIdlePolls = 1000

const (
	snapshotThumbSize = 480
	textLineHeight    = 15
)

// SnapshotRenderer rasterizes frames in memory and answers key polls from a
// fixed script. It runs a session without a display, and can save the frame
// shown at each scripted key press.
type SnapshotRenderer struct {
	width, height int

	mu           sync.Mutex
	pending      []DrawCommand
	last         *image.RGBA
	frames       int
	script       []string
	idlePolls    int
	maxIdlePolls int
	snapshotDir  string
	saved        []string
}

// NewSnapshotRenderer creates a renderer for the given resolution that
// presses the scripted keys in order.
func NewSnapshotRenderer(res Resolution, script []string) *SnapshotRenderer {
	return &SnapshotRenderer{
		width:        res.Width,
		height:       res.Height,
		script:       slices.Clone(script),
		maxIdlePolls: DefaultMaxIdlePolls,
	}
}

// SetSnapshotDir enables saving a PNG thumbnail each time a scripted key is
// consumed.
func (r *SnapshotRenderer) SetSnapshotDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotDir = dir
}

// SetMaxIdlePolls overrides DefaultMaxIdlePolls.
func (r *SnapshotRenderer) SetMaxIdlePolls(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxIdlePolls = n
}

// Draw queues cmd for the next Flip.
func (r *SnapshotRenderer) Draw(cmd DrawCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, cmd)
}

// Flip rasterizes the queued commands into a fresh frame.
func (r *SnapshotRenderer) Flip() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxIdlePolls > 0 && r.idlePolls > r.maxIdlePolls {
		return ErrScriptExhausted
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	fillRect(img, img.Bounds(), ColorBackground)
	for _, cmd := range r.pending {
		r.rasterize(img, cmd)
	}
	r.pending = r.pending[:0]
	r.last = img
	r.frames++
	return nil
}

// GetKeys pops the next scripted key if the screen accepts it.
func (r *SnapshotRenderer) GetKeys(candidates []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextKey(candidates)
}

// WaitKeys behaves like GetKeys; a headless run never waits.
func (r *SnapshotRenderer) WaitKeys(candidates []string, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextKey(candidates)
}

func (r *SnapshotRenderer) nextKey(candidates []string) []string {
	if len(r.script) > 0 && slices.Contains(candidates, r.script[0]) {
		key := r.script[0]
		r.script = r.script[1:]
		r.idlePolls = 0
		r.saveSnapshot(key)
		return []string{key}
	}
	// The quit poll runs on every animation frame and does not count as idle.
	if !(len(candidates) == 1 && candidates[0] == QuitKey) {
		r.idlePolls++
	}
	return nil
}

func (r *SnapshotRenderer) saveSnapshot(key string) {
	if r.snapshotDir == "" || r.last == nil {
		return
	}
	path := filepath.Join(r.snapshotDir, fmt.Sprintf("frame-%05d-%s.png", r.frames, key))
	thumb := imaging.Fit(r.last, snapshotThumbSize, snapshotThumbSize, imaging.Lanczos)
	if err := imaging.Save(thumb, path); err != nil {
		log.Printf("Error saving snapshot %s: %v", path, err)
		return
	}
	r.saved = append(r.saved, path)
}

// Frames returns how many frames were presented.
func (r *SnapshotRenderer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Last returns the most recent frame, or nil before the first Flip.
func (r *SnapshotRenderer) Last() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Snapshots lists the files written so far.
func (r *SnapshotRenderer) Snapshots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.saved)
}

// SavePNG saves the most recent frame at full resolution.
func (r *SnapshotRenderer) SavePNG(path string) error {
	img := r.Last()
	if img == nil {
		return fmt.Errorf("%w: no frame rendered", ErrPreconditionUnmet)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// toImage maps a command position into image coordinates (origin top left,
// +Y down).
func (r *SnapshotRenderer) toImage(p Point, units Units) (float64, float64) {
	w, h := float64(r.width), float64(r.height)
	if units == UnitsNorm {
		return w/2 + p.X*w/2, h/2 - p.Y*h/2
	}
	return w/2 + p.X, h/2 - p.Y
}

// toImageLength scales a length. Norm lengths follow the axis they run on;
// radii use the vertical axis so circles stay round.
func (r *SnapshotRenderer) toImageLength(v float64, units Units, horizontal bool) float64 {
	if units != UnitsNorm {
		return v
	}
	if horizontal {
		return v * float64(r.width) / 2
	}
	return v * float64(r.height) / 2
}

func (r *SnapshotRenderer) rasterize(img *image.RGBA, cmd DrawCommand) {
	x, y := r.toImage(cmd.Pos, cmd.Units)
	switch cmd.Kind {
	case ShapeCircle:
		radius := r.toImageLength(cmd.Radius, cmd.Units, false)
		drawRing(img, x, y, radius, cmd.LineWidth, cmd.Line, cmd.Fill)
	case ShapeLine:
		x2, y2 := r.toImage(cmd.End, cmd.Units)
		drawThickLine(img, x, y, x2, y2, math.Max(cmd.LineWidth, 1), cmd.Line)
	case ShapeRect:
		w := r.toImageLength(cmd.Width, cmd.Units, true)
		h := r.toImageLength(cmd.Height, cmd.Units, false)
		rect := image.Rect(int(x-w/2), int(y-h/2), int(x+w/2), int(y+h/2))
		fillRect(img, rect, cmd.Fill)
	case ShapeCross:
		half := r.toImageLength(cmd.Width, cmd.Units, false) / 2
		lw := math.Max(cmd.LineWidth, 1)
		drawThickLine(img, x-half, y, x+half, y, lw, cmd.Line)
		drawThickLine(img, x, y-half, x, y+half, lw, cmd.Line)
	case ShapeText:
		drawCenteredText(img, int(x), int(y), cmd.Text, cmd.Fill)
	}
}

func setPixel(img *image.RGBA, x, y int, c color.NRGBA) {
	if c.A == 0 {
		return
	}
	if image.Pt(x, y).In(img.Bounds()) {
		img.Set(x, y, c)
	}
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.NRGBA) {
	if c.A == 0 {
		return
	}
	draw.Draw(img, rect.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// drawRing fills a circle and strokes its outline with the given width.
func drawRing(img *image.RGBA, cx, cy, radius, lineWidth float64, line, fill color.NRGBA) {
	half := lineWidth / 2
	outer := radius + half
	for y := int(cy - outer); y <= int(cy+outer); y++ {
		for x := int(cx - outer); x <= int(cx+outer); x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			switch {
			case d <= radius-half:
				setPixel(img, x, y, fill)
			case d <= outer:
				setPixel(img, x, y, line)
			}
		}
	}
}

func drawThickLine(img *image.RGBA, x1, y1, x2, y2, width float64, c color.NRGBA) {
	half := width / 2
	minX, maxX := math.Min(x1, x2)-half, math.Max(x1, x2)+half
	minY, maxY := math.Min(y1, y2)-half, math.Max(y1, y2)+half
	dx, dy := x2-x1, y2-y1
	lenSq := dx*dx + dy*dy
	for y := int(minY); y <= int(maxY); y++ {
		for x := int(minX); x <= int(maxX); x++ {
			px, py := float64(x), float64(y)
			t := 0.0
			if lenSq > 0 {
				t = math.Max(0, math.Min(1, ((px-x1)*dx+(py-y1)*dy)/lenSq))
			}
			if math.Hypot(px-(x1+t*dx), py-(y1+t*dy)) <= half {
				setPixel(img, x, y, c)
			}
		}
	}
}

// drawCenteredText renders each line of text centered on (x, y).
func drawCenteredText(img *image.RGBA, x, y int, text string, c color.NRGBA) {
	face := basicfont.Face7x13
	lines := strings.Split(text, "\n")
	top := y - len(lines)*textLineHeight/2
	for i, line := range lines {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(c),
			Face: face,
		}
		width := d.MeasureString(line).Ceil()
		d.Dot = fixed.Point26_6{X: fixed.I(x - width/2), Y: fixed.I(top + (i+1)*textLineHeight)}
		d.DrawString(line)
	}
}
