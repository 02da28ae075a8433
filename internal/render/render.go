// Package render turns a VietQR payload into the PNG posted to chats: the QR
// code on a bordered white panel with the beneficiary underneath, optionally
// composited onto a background image.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"vietqr_bot/internal/dispatch"
)

// Panel geometry.
const (
	MinQRSize      = 120
	PlainQRSize    = 320
	panelPadding   = 16
	textGap        = 8
	lineGap        = 4
	borderWidth    = 3
	backgroundEdge = 24
)

// defaultRatio sizes the QR relative to the background's short side.
const defaultRatio = 0.32

// ErrBackground reports a background image that could not be used.
var ErrBackground = errors.New("render: background unavailable")

var borderColor = color.RGBA{R: 0x0B, G: 0x5B, B: 0x3E, A: 0xFF}

var face = basicfont.Face7x13

// Renderer builds QR images and caches decoded backgrounds by path.
type Renderer struct {
	mu          sync.Mutex
	backgrounds map[string]image.Image
	open        func(path string) (image.Image, error)
}

// New returns a Renderer that reads backgrounds from disk.
func New() *Renderer {
	return &Renderer{backgrounds: make(map[string]image.Image), open: decodeFile}
}

// Render returns the PNG for payload. With an empty layout background it
// renders the panel alone. A background that cannot be loaded yields an
// error wrapping ErrBackground; callers may fall back to RenderPanel.
func (r *Renderer) Render(payload string, card dispatch.Card, layout dispatch.Layout) ([]byte, error) {
	if strings.TrimSpace(layout.BackgroundPath) == "" {
		return r.RenderPanel(payload, card, layout.Size)
	}

	bg, err := r.background(layout.BackgroundPath)
	if err != nil {
		return nil, err
	}

	bounds := bg.Bounds()
	size := layout.Size
	if size <= 0 {
		size = int(float64(min(bounds.Dx(), bounds.Dy())) * defaultRatio)
	}

	qr, err := Code(payload, size)
	if err != nil {
		return nil, err
	}
	img := Compose(Panel(qr, cardLines(card)), bg, layout.X, layout.Y)
	return encodePNG(img)
}

// RenderPanel renders the panel without a background.
func (r *Renderer) RenderPanel(payload string, card dispatch.Card, size int) ([]byte, error) {
	if size <= 0 {
		size = PlainQRSize
	}
	qr, err := Code(payload, size)
	if err != nil {
		return nil, err
	}
	return encodePNG(Panel(qr, cardLines(card)))
}

func (r *Renderer) background(path string) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bg, ok := r.backgrounds[path]; ok {
		return bg, nil
	}
	bg, err := r.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackground, path, err)
	}
	r.backgrounds[path] = bg
	return bg, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// Code renders payload as a square QR image of at least MinQRSize pixels.
func Code(payload string, size int) (image.Image, error) {
	if payload == "" {
		return nil, errors.New("render: empty payload")
	}
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("render: build qr: %w", err)
	}
	return q.Image(max(size, MinQRSize)), nil
}

func cardLines(card dispatch.Card) []string {
	holder := strings.TrimSpace(card.HolderName)
	if holder == "" {
		holder = "NA"
	}
	lines := []string{strings.TrimSpace(card.BankName), holder, strings.TrimSpace(card.AccountNumber)}
	if card.Amount != "" {
		lines = append(lines, card.Amount)
	}
	if card.Note != "" {
		lines = append(lines, card.Note)
	}
	return lines
}

// Panel frames qr on white with the text lines centred below it. Empty lines
// are skipped.
func Panel(qr image.Image, lines []string) *image.RGBA {
	var text []string
	for _, line := range lines {
		if line != "" {
			text = append(text, line)
		}
	}

	lineHeight := face.Metrics().Height.Ceil()
	textWidth := 0
	for _, line := range text {
		textWidth = max(textWidth, font.MeasureString(face, line).Ceil())
	}
	textHeight := 0
	if len(text) > 0 {
		textHeight = len(text)*lineHeight + (len(text)-1)*lineGap
	}

	qb := qr.Bounds()
	width := max(qb.Dx(), textWidth) + panelPadding*2
	height := qb.Dy() + textGap + textHeight + panelPadding*2

	panel := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(panel, panel.Bounds(), &image.Uniform{C: borderColor}, image.Point{}, draw.Src)
	inner := panel.Bounds().Inset(borderWidth)
	draw.Draw(panel, inner, image.White, image.Point{}, draw.Src)

	qrAt := image.Pt((width-qb.Dx())/2, panelPadding)
	draw.Draw(panel, image.Rectangle{Min: qrAt, Max: qrAt.Add(qb.Size())}, qr, qb.Min, draw.Over)

	d := &font.Drawer{Dst: panel, Src: image.Black, Face: face}
	y := panelPadding + qb.Dy() + textGap
	ascent := face.Metrics().Ascent.Ceil()
	for _, line := range text {
		w := font.MeasureString(face, line).Ceil()
		d.Dot = fixed.P((width-w)/2, y+ascent)
		d.DrawString(line)
		y += lineHeight + lineGap
	}
	return panel
}

// Compose copies bg and places panel on it. A missing coordinate defaults to
// the bottom-left corner; the result is clamped so the panel stays inside the
// background.
func Compose(panel image.Image, bg image.Image, x, y *int) *image.RGBA {
	bb := bg.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	draw.Draw(out, out.Bounds(), bg, bb.Min, draw.Src)

	pb := panel.Bounds()
	px, py := backgroundEdge, bb.Dy()-pb.Dy()-backgroundEdge
	if x != nil {
		px = *x
	}
	if y != nil {
		py = *y
	}
	px = clamp(px, 0, bb.Dx()-pb.Dx())
	py = clamp(py, 0, bb.Dy()-pb.Dy())

	at := image.Pt(px, py)
	draw.Draw(out, image.Rectangle{Min: at, Max: at.Add(pb.Size())}, panel, pb.Min, draw.Over)
	return out
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
