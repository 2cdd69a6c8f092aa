package builder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/idmcalculus/kytepdf/ir/semantic"
)

// ErrUnsupportedImage is returned for data that is neither PNG nor JPEG.
var ErrUnsupportedImage = errors.New("unsupported image format: expected PNG or JPEG")

// ImageFormat identifies an embeddable image encoding.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// SniffFormat detects PNG or JPEG from the leading bytes.
func SniffFormat(data []byte) (ImageFormat, error) {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG, nil
	}
	return "", ErrUnsupportedImage
}

// ImageFromFile loads an image from a file path and converts it to *semantic.Image.
func ImageFromFile(path string) (*semantic.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ImageFromBytes(data)
}

// ImageFromBytes embeds PNG or JPEG data. JPEG data is kept as is; PNG is
// decoded to samples with an optional soft mask.
func ImageFromBytes(data []byte) (*semantic.Image, error) {
	format, err := SniffFormat(data)
	if err != nil {
		return nil, err
	}
	if format == FormatJPEG {
		return FromJPEG(data)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return FromImage(img), nil
}

// FromJPEG wraps JPEG data as a DCTDecode image without recompressing it.
func FromJPEG(data []byte) (*semantic.Image, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg header: %w", err)
	}
	cs := "DeviceRGB"
	switch cfg.ColorModel {
	case color.GrayModel:
		cs = "DeviceGray"
	case color.CMYKModel:
		cs = "DeviceCMYK"
	}
	return &semantic.Image{
		Subtype:          "Image",
		Width:            cfg.Width,
		Height:           cfg.Height,
		ColorSpace:       semantic.DeviceColorSpace{Name: cs},
		BitsPerComponent: 8,
		Data:             data,
		Filter:           "DCTDecode",
	}, nil
}

// FromImage converts a standard Go image.Image to *semantic.Image.
// Gray images stay single channel; transparency becomes a soft mask.
func FromImage(src image.Image) *semantic.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if gray, ok := src.(*image.Gray); ok {
		pixels := make([]byte, 0, w*h)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			off := gray.PixOffset(bounds.Min.X, y)
			pixels = append(pixels, gray.Pix[off:off+w]...)
		}
		return &semantic.Image{
			Subtype:          "Image",
			Width:            w,
			Height:           h,
			ColorSpace:       semantic.DeviceColorSpace{Name: "DeviceGray"},
			BitsPerComponent: 8,
			Data:             pixels,
		}
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	pixels := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	hasAlpha := false

	for i := 0; i < w*h; i++ {
		offset := i * 4
		pixels = append(pixels, nrgba.Pix[offset], nrgba.Pix[offset+1], nrgba.Pix[offset+2])
		a := nrgba.Pix[offset+3]
		alpha = append(alpha, a)
		if a < 255 {
			hasAlpha = true
		}
	}

	img := &semantic.Image{
		Subtype:          "Image",
		Width:            w,
		Height:           h,
		ColorSpace:       semantic.DeviceColorSpace{Name: "DeviceRGB"},
		BitsPerComponent: 8,
		Data:             pixels,
	}
	if hasAlpha {
		img.SMask = &semantic.Image{
			Subtype:          "Image",
			Width:            w,
			Height:           h,
			ColorSpace:       semantic.DeviceColorSpace{Name: "DeviceGray"},
			BitsPerComponent: 8,
			Data:             alpha,
		}
	}
	return img
}
