package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/menta2k/agent-grounding/internal/utils"
	"github.com/menta2k/agent-grounding/pkg/types"
)

// Red is the outline color for annotated boxes
var Red = color.NRGBA{255, 0, 0, 255}

// Options controls how annotated images are drawn and named
type Options struct {
	OutputDir   string
	Suffix      string
	StrokeWidth int
	UniqueNames bool
}

// DefaultOptions matches the server defaults
func DefaultOptions() Options {
	return Options{
		OutputDir:   "./results",
		Suffix:      "_processed",
		StrokeWidth: 3,
	}
}

// Processor handles image processing operations
type Processor struct {
	opts  Options
	mu    sync.Mutex
	paths map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// NewProcessor creates a new image processor
func NewProcessor(opts Options) *Processor {
	if opts.StrokeWidth <= 0 {
		opts.StrokeWidth = 3
	}
	if opts.Suffix == "" {
		opts.Suffix = "_processed"
	}
	return &Processor{opts: opts, paths: map[string]*pathLock{}}
}

// Options returns the processor configuration
func (p *Processor) Options() Options {
	return p.opts
}

// WorkingCopy converts img into an opaque NRGBA buffer that boxes are drawn
// onto. Alpha is discarded, color values are kept.
func WorkingCopy(img image.Image) *image.NRGBA {
	nrgba := imaging.Clone(img)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		nrgba.Pix[i] = 255
	}
	return nrgba
}

// PrepareImageForModel encodes an image as base64 PNG for sending to vision
// models, downscaling so the long side is at most maxDim when maxDim > 0.
// Box coordinates are fractions, so downscaling does not affect them.
func (p *Processor) PrepareImageForModel(img image.Image, maxDim int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ToPixels projects a normalized box onto a w x h image, truncating toward zero
func ToPixels(box types.Box, w, h int) types.PixelBox {
	return types.PixelBox{
		X1: int(box.XMin * float64(w)),
		Y1: int(box.YMin * float64(h)),
		X2: int(box.XMax * float64(w)),
		Y2: int(box.YMax * float64(h)),
	}
}

// OutputPath derives {dir}/{name}{suffix}.png from an uploaded filename. With
// UniqueNames a short random id is inserted so concurrent uploads of the same
// filename don't overwrite each other.
func (p *Processor) OutputPath(filename string) string {
	name := utils.SanitizeFilename(utils.BaseName(filename))
	if name == "" {
		name = "image"
	}
	if p.opts.UniqueNames {
		name = name + "_" + uuid.NewString()[:8]
	}
	return utils.JoinPath(p.opts.OutputDir, name+p.opts.Suffix+".png")
}

// Annotate draws every box onto img in order and saves the result as PNG at
// outputPath. img is modified in place. It returns the pixel boxes drawn.
func (p *Processor) Annotate(img *image.NRGBA, boxes []types.Box, outputPath string) ([]types.PixelBox, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	drawn := make([]types.PixelBox, 0, len(boxes))
	for _, b := range boxes {
		pb := ToPixels(b, w, h)
		DrawRect(img, pb, Red, p.opts.StrokeWidth)
		drawn = append(drawn, pb)
	}

	unlock := p.lockPath(outputPath)
	defer unlock()

	if err := SavePNG(img, outputPath); err != nil {
		return drawn, err
	}
	return drawn, nil
}

// SavePNG writes img to path as PNG regardless of the path's extension
func SavePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return nil
}

// lockPath serializes writers of the same output path within this process
func (p *Processor) lockPath(path string) func() {
	p.mu.Lock()
	l, ok := p.paths[path]
	if !ok {
		l = &pathLock{}
		p.paths[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.paths, path)
		}
		p.mu.Unlock()
	}
}

// DrawRect draws an unfilled rectangle whose outer edge passes through both
// corners of pb (inclusive), with the stroke growing inward. Parts outside the
// image are clipped.
func DrawRect(img *image.NRGBA, pb types.PixelBox, c color.NRGBA, stroke int) {
	r := pb.Canon()
	for s := 0; s < stroke; s++ {
		top, bottom := r.Y1+s, r.Y2-s
		left, right := r.X1+s, r.X2-s
		if top > bottom || left > right {
			break
		}
		drawHLine(img, top, r.X1, r.X2+1, c)
		drawHLine(img, bottom, r.X1, r.X2+1, c)
		drawVLine(img, left, r.Y1, r.Y2+1, c)
		drawVLine(img, right, r.Y1, r.Y2+1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= b.Min.X || x0 >= b.Max.X {
		return
	}
	if x0 < b.Min.X {
		x0 = b.Min.X
	}
	if x1 > b.Max.X {
		x1 = b.Max.X
	}
	i := img.PixOffset(x0, y)
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= b.Min.Y || y0 >= b.Max.Y {
		return
	}
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	i := img.PixOffset(x, y0)
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
