package annotate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/ir/semantic"
)

var (
	ErrBadColor   = errors.New("color must be #RRGGBB")
	ErrBadDataURL = errors.New("malformed data URL")
)

// ParseHexColor converts "#RRGGBB" to components in [0, 1]. The leading
// '#' is optional.
func ParseHexColor(s string) (builder.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return builder.Color{}, ErrBadColor
	}
	var c [3]float64
	for i := range c {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return builder.Color{}, ErrBadColor
		}
		c[i] = float64(v) / 255
	}
	return builder.Color{R: c[0], G: c[1], B: c[2]}, nil
}

// DecodeDataURL splits a data URL into its media type and payload.
func DecodeDataURL(s string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrBadDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrBadDataURL
	}
	params := strings.Split(meta, ";")
	mediaType = strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadDataURL, err)
		}
		return mediaType, []byte(unescaped), nil
	}
	payload = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadDataURL, err)
		}
	}
	return mediaType, data, nil
}

// DecodeImage turns an image data URL into an embeddable image. The media
// type picks PNG or JPEG; anything else falls back to sniffing the bytes.
func DecodeImage(dataURL string) (*semantic.Image, error) {
	mediaType, data, err := DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	format, err := builder.SniffFormat(data)
	switch mediaType {
	case "image/png":
		format = builder.FormatPNG
	case "image/jpeg", "image/jpg":
		format = builder.FormatJPEG
	default:
		if err != nil {
			return nil, err
		}
	}
	if format == builder.FormatJPEG {
		return builder.FromJPEG(data)
	}
	return builder.ImageFromBytes(data)
}
