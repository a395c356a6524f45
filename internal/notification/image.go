package notification

import "fmt"

// Format bounds. Within them ExpectedLen cannot overflow for any int32 geometry.
const (
	maxChannels      = 4
	maxBitsPerSample = 16
)

// RawImage is decoded pixel data from an image-data hint.
type RawImage struct {
	Width         int32
	Height        int32
	Rowstride     int32
	HasAlpha      bool
	BitsPerSample int32
	Channels      int32
	Data          []byte
}

// ExpectedLen is the buffer size the geometry implies: every row but the last
// takes a full stride, the last one only its pixels.
func (img *RawImage) ExpectedLen() int64 {
	w, h, rs := int64(img.Width), int64(img.Height), int64(img.Rowstride)
	bytesPerPixel := (int64(img.Channels)*int64(img.BitsPerSample) + 7) / 8
	return (h-1)*rs + w*bytesPerPixel
}

// Validate rejects images whose geometry is degenerate or does not agree with
// the length of Data.
func (img *RawImage) Validate() error {
	if img.Width <= 0 || img.Height <= 0 || img.Rowstride <= 0 {
		return fmt.Errorf("image: invalid geometry %dx%d stride %d", img.Width, img.Height, img.Rowstride)
	}
	if img.Channels < 1 || img.Channels > maxChannels || img.BitsPerSample < 1 || img.BitsPerSample > maxBitsPerSample {
		return fmt.Errorf("image: invalid format channels=%d bps=%d", img.Channels, img.BitsPerSample)
	}
	if want, got := img.ExpectedLen(), int64(len(img.Data)); want != got {
		return fmt.Errorf("image: expected %d bytes of data, got %d", want, got)
	}
	return nil
}

func (img *RawImage) clone() *RawImage {
	cp := *img
	cp.Data = append([]byte(nil), img.Data...)
	return &cp
}
