package optimize

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/idmcalculus/kytepdf/ir/semantic"
)

var ErrUnsupportedImage = errors.New("unsupported image encoding")

// ToImage decodes the samples of an image XObject. JPEG data is decoded
// directly; other filters must already have been removed. Image masks come
// back as *image.Alpha where opaque pixels are the ones to paint.
func ToImage(xo *semantic.XObject) (image.Image, error) {
	if xo == nil || xo.Width <= 0 || xo.Height <= 0 {
		return nil, ErrUnsupportedImage
	}
	var img image.Image
	var err error
	switch {
	case xo.Filter == "DCTDecode":
		img, err = jpeg.Decode(bytes.NewReader(xo.Data))
	case xo.Filter != "":
		return nil, ErrUnsupportedImage
	case xo.ImageMask:
		return stencil(xo)
	default:
		img, err = samples(xo)
	}
	if err != nil {
		return nil, err
	}
	if xo.SMask != nil {
		if alpha, err := ToImage(xo.SMask); err == nil {
			img = withAlpha(img, alpha)
		}
	}
	return img, nil
}

type sampleReader struct {
	data []byte
	bpc  int
	pos  int // in bits
}

func (r *sampleReader) next() int {
	switch r.bpc {
	case 8:
		v := r.data[r.pos/8]
		r.pos += 8
		return int(v)
	case 16:
		i := r.pos / 8
		r.pos += 16
		return int(r.data[i])<<8 | int(r.data[i+1])
	}
	byteIdx, shift := r.pos/8, 8-r.bpc-r.pos%8
	r.pos += r.bpc
	return int(r.data[byteIdx]>>shift) & (1<<r.bpc - 1)
}

// row positions the reader at the start of row y; rows are byte aligned.
func (r *sampleReader) row(y, rowBytes int) { r.pos = y * rowBytes * 8 }

func bitsPerComponent(xo *semantic.XObject) int {
	switch xo.BitsPerComponent {
	case 1, 2, 4, 8, 16:
		return xo.BitsPerComponent
	}
	return 8
}

func samples(xo *semantic.XObject) (image.Image, error) {
	w, h := xo.Width, xo.Height
	bpc := bitsPerComponent(xo)
	cs := xo.ColorSpace
	if cs == nil {
		cs = semantic.DeviceColorSpace{Name: "DeviceRGB"}
	}
	indexed, _ := cs.(*semantic.IndexedColorSpace)
	n := semantic.Components(cs)
	base := cs
	if indexed != nil {
		base = indexed.Base
	}
	baseN := semantic.Components(base)

	rowBytes := (w*n*bpc + 7) / 8
	if len(xo.Data) < rowBytes*h {
		return nil, ErrUnsupportedImage
	}
	maxv := float64(int(1)<<bpc - 1)
	decode := decodeRanges(xo.Decode, n, indexed != nil, maxv)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	r := &sampleReader{data: xo.Data, bpc: bpc}
	comps := make([]float64, baseN)
	raw := make([]float64, n)
	for y := 0; y < h; y++ {
		r.row(y, rowBytes)
		for x := 0; x < w; x++ {
			for i := range raw {
				s := float64(r.next())
				raw[i] = decode[2*i] + s*(decode[2*i+1]-decode[2*i])/maxv
			}
			if indexed != nil {
				idx := int(raw[0])
				for i := range comps {
					comps[i] = 0
					if off := idx*baseN + i; idx >= 0 && idx <= indexed.Hival && off < len(indexed.Lookup) {
						comps[i] = float64(indexed.Lookup[off]) / 255
					}
				}
			} else {
				copy(comps, raw)
			}
			out.SetNRGBA(x, y, toRGB(comps))
		}
	}
	return out, nil
}

// decodeRanges returns a [min, max] pair per component. Indexed images
// decode to palette indices rather than fractions.
func decodeRanges(d []float64, n int, indexed bool, maxv float64) []float64 {
	if len(d) >= 2*n {
		return d[:2*n]
	}
	out := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		out[2*i+1] = 1
		if indexed {
			out[2*i+1] = maxv
		}
	}
	return out
}

func toRGB(c []float64) color.NRGBA {
	clamp := func(v float64) uint8 {
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 255
		}
		return uint8(v*255 + 0.5)
	}
	switch len(c) {
	case 1:
		g := clamp(c[0])
		return color.NRGBA{g, g, g, 255}
	case 4:
		k := 1 - c[3]
		return color.NRGBA{clamp((1 - c[0]) * k), clamp((1 - c[1]) * k), clamp((1 - c[2]) * k), 255}
	case 3:
		return color.NRGBA{clamp(c[0]), clamp(c[1]), clamp(c[2]), 255}
	}
	return color.NRGBA{A: 255}
}

// stencil decodes a 1-bit image mask. Sample 0 paints unless Decode is
// [1 0].
func stencil(xo *semantic.XObject) (image.Image, error) {
	w, h := xo.Width, xo.Height
	rowBytes := (w + 7) / 8
	if len(xo.Data) < rowBytes*h {
		return nil, ErrUnsupportedImage
	}
	paint := 0
	if len(xo.Decode) >= 2 && xo.Decode[0] == 1 {
		paint = 1
	}
	out := image.NewAlpha(image.Rect(0, 0, w, h))
	r := &sampleReader{data: xo.Data, bpc: 1}
	for y := 0; y < h; y++ {
		r.row(y, rowBytes)
		for x := 0; x < w; x++ {
			if r.next() == paint {
				out.Pix[y*out.Stride+x] = 0xff
			}
		}
	}
	return out, nil
}

// withAlpha combines img with the luminance of mask, resampling the mask
// by nearest neighbour when the sizes differ.
func withAlpha(img, mask image.Image) image.Image {
	b, mb := img.Bounds(), mask.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		my := mb.Min.Y + y*mb.Dy()/b.Dy()
		for x := 0; x < b.Dx(); x++ {
			mx := mb.Min.X + x*mb.Dx()/b.Dx()
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = color.GrayModel.Convert(mask.At(mx, my)).(color.Gray).Y
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}
