// Package preprocess turns an uploaded raster image into the normalized
// tensor the lesion classifier consumes: decode, force RGB, resize to a
// fixed square, scale channels to [0, 1].
package preprocess

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
)

var (
	ErrEmptyImage = errors.New("image payload is empty")
	ErrBadFilter  = errors.New("unknown resize filter")
)

var filters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseFilter maps a filter name to a resampling function.
func ParseFilter(name string) (resize.InterpolationFunction, error) {
	clean := strings.ToLower(strings.TrimSpace(name))
	if clean == "" {
		return resize.Bicubic, nil
	}
	f, ok := filters[clean]
	if !ok {
		return 0, errors.Wrapf(ErrBadFilter, "%q", name)
	}
	return f, nil
}

type Options struct {
	// Size is the edge of the square the image is stretched to.
	Size   int
	Filter resize.InterpolationFunction
}

func DefaultOptions() Options {
	return Options{Size: model.DefaultImageSize, Filter: resize.Bicubic}
}

// Decode reads any registered raster format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "cannot identify image")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, format, errors.Errorf("image has no pixels (%dx%d)", b.Dx(), b.Dy())
	}
	return img, format, nil
}

// ToRGB flattens any color model (gray, palette, CMYK, with or without
// alpha) into an opaque RGBA image. Alpha is dropped, not composited.
func ToRGB(img image.Image) *image.RGBA {
	src := imaging.Clone(img)
	dst := image.NewRGBA(src.Rect)
	for i := 0; i < len(src.Pix); i += 4 {
		dst.Pix[i] = src.Pix[i]
		dst.Pix[i+1] = src.Pix[i+1]
		dst.Pix[i+2] = src.Pix[i+2]
		dst.Pix[i+3] = 0xff
	}
	return dst
}

// Resize stretches img to size×size without preserving aspect ratio.
// An image that already has that size is returned as is.
func Resize(img image.Image, size int, filter resize.InterpolationFunction) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	return resize.Resize(uint(size), uint(size), img, filter)
}

// Normalize scales 8-bit channels into [0, 1] and lays them out NHWC with a
// leading batch dimension of one.
func Normalize(img image.Image) model.Tensor {
	b := img.Bounds()
	t := model.Tensor{
		Shape: [4]int{1, b.Dy(), b.Dx(), model.Channels},
		Data:  make([]float32, b.Dx()*b.Dy()*model.Channels),
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var r, g, bl uint8
			if rgba, ok := img.(*image.RGBA); ok {
				off := rgba.PixOffset(x, y)
				r, g, bl = rgba.Pix[off], rgba.Pix[off+1], rgba.Pix[off+2]
			} else {
				r16, g16, b16, _ := img.At(x, y).RGBA()
				r, g, bl = uint8(r16>>8), uint8(g16>>8), uint8(b16>>8)
			}
			t.Data[i] = float32(r) / 255.0
			t.Data[i+1] = float32(g) / 255.0
			t.Data[i+2] = float32(bl) / 255.0
			i += model.Channels
		}
	}
	return t
}

// Image runs RGB conversion, resize and normalization on a decoded image.
func Image(img image.Image, opts Options) model.Tensor {
	size := opts.Size
	if size <= 0 {
		size = model.DefaultImageSize
	}
	return Normalize(Resize(ToRGB(img), size, opts.Filter))
}

// FromBytes decodes raw upload bytes into a tensor.
func FromBytes(data []byte, opts Options) (model.Tensor, error) {
	if len(data) == 0 {
		return model.Tensor{}, ErrEmptyImage
	}
	img, _, err := Decode(bytes.NewReader(data))
	if err != nil {
		return model.Tensor{}, err
	}
	return Image(img, opts), nil
}

// FromFile decodes the image stored at path into a tensor.
func FromFile(path string, opts Options) (model.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Tensor{}, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	img, _, err := Decode(f)
	if err != nil {
		return model.Tensor{}, err
	}
	return Image(img, opts), nil
}
