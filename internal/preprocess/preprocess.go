package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

var (
	// ErrDecode means the bytes are not a readable image.
	ErrDecode = errors.New("cannot decode image")
	// ErrFormat means the image decoded but is not usable as 3-channel JPEG/PNG input.
	ErrFormat = errors.New("unsupported image format")
)

// Layout is the order of the tensor dimensions.
type Layout string

const (
	NHWC Layout = "NHWC"
	NCHW Layout = "NCHW"
)

// Tensor is a batch of one normalized image.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Options configures the preprocessing pipeline.
type Options struct {
	Width         int
	Height        int
	Layout        Layout
	Normalization Normalization
	// Interpolation is one of nearest, bilinear, bicubic, lanczos3.
	Interpolation string
	// MaxPixels caps the declared width*height of an upload. Zero means
	// DefaultMaxPixels.
	MaxPixels int64
}

// DefaultMaxPixels is the largest source image accepted for decoding.
const DefaultMaxPixels int64 = 89_478_485

// DefaultOptions matches a 224x224 Keras-style model.
func DefaultOptions() Options {
	return Options{
		Width:         224,
		Height:        224,
		Layout:        NHWC,
		Normalization: Unit,
		Interpolation: "bilinear",
		MaxPixels:     DefaultMaxPixels,
	}
}

var acceptedFormats = map[string]bool{"jpeg": true, "png": true}

// Preprocessor turns encoded image bytes into model input. It holds no
// mutable state and is safe for concurrent use.
type Preprocessor struct {
	opts   Options
	interp resize.InterpolationFunction
}

func New(opts Options) (*Preprocessor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", opts.Width, opts.Height)
	}
	opts.Layout = Layout(strings.ToUpper(string(opts.Layout)))
	if opts.Layout == "" {
		opts.Layout = NHWC
	}
	if opts.Layout != NHWC && opts.Layout != NCHW {
		return nil, fmt.Errorf("unsupported layout %q", opts.Layout)
	}
	if err := opts.Normalization.validate(); err != nil {
		return nil, err
	}
	if opts.MaxPixels < 0 {
		return nil, fmt.Errorf("invalid max pixels %d", opts.MaxPixels)
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	interp, err := interpolation(opts.Interpolation)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{opts: opts, interp: interp}, nil
}

func interpolation(name string) (resize.InterpolationFunction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest":
		return resize.NearestNeighbor, nil
	case "", "bilinear":
		return resize.Bilinear, nil
	case "bicubic":
		return resize.Bicubic, nil
	case "lanczos3":
		return resize.Lanczos3, nil
	default:
		return 0, fmt.Errorf("unknown interpolation %q", name)
	}
}

// Options returns the effective options.
func (p *Preprocessor) Options() Options {
	return p.opts
}

// Shape is the tensor shape produced by Preprocess, batch dimension included.
func (p *Preprocessor) Shape() []int64 {
	h, w := int64(p.opts.Height), int64(p.opts.Width)
	if p.opts.Layout == NCHW {
		return []int64{1, 3, h, w}
	}
	return []int64{1, h, w, 3}
}

// Preprocess decodes, orients, converts to RGB, stretches to the input size
// and normalizes. The same bytes always produce the same tensor.
func (p *Preprocessor) Preprocess(data []byte) (Tensor, error) {
	img, err := decodeRGB(data, p.opts.MaxPixels)
	if err != nil {
		return Tensor{}, err
	}

	resized := resize.Resize(uint(p.opts.Width), uint(p.opts.Height), img, p.interp)
	if b := resized.Bounds(); b.Dx() != p.opts.Width || b.Dy() != p.opts.Height {
		return Tensor{}, fmt.Errorf("%w: resized to %dx%d", ErrFormat, b.Dx(), b.Dy())
	}

	return Tensor{Shape: p.Shape(), Data: p.normalize(resized)}, nil
}

// decodeRGB covers decoding, EXIF orientation and conversion to opaque RGB.
// The header is checked against maxPixels before any pixel is allocated.
func decodeRGB(data []byte, maxPixels int64) (*image.RGBA, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !acceptedFormats[format] {
		return nil, fmt.Errorf("%w: %s", ErrFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrFormat)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrFormat, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrFormat)
	}

	return toRGB(imaging.Clone(img)), nil
}

// toRGB drops the alpha channel without compositing, so every pixel keeps
// its stored color and becomes fully opaque.
func toRGB(src *image.NRGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	copy(dst.Pix, src.Pix)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func (p *Preprocessor) normalize(img image.Image) []float32 {
	w, h := p.opts.Width, p.opts.Height
	n := p.opts.Normalization
	plane := w * h
	data := make([]float32, 3*plane)

	rgba, fast := img.(*image.RGBA)
	b := img.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl uint8
			if fast {
				i := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl = rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
			} else {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				r, g, bl = c.R, c.G, c.B
			}

			pixel := y*w + x
			if p.opts.Layout == NCHW {
				data[pixel] = n.Apply(0, r)
				data[plane+pixel] = n.Apply(1, g)
				data[2*plane+pixel] = n.Apply(2, bl)
			} else {
				data[3*pixel] = n.Apply(0, r)
				data[3*pixel+1] = n.Apply(1, g)
				data[3*pixel+2] = n.Apply(2, bl)
			}
		}
	}
	return data
}
