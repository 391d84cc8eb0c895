package domain

import "fmt"

// PixelFormat tags the layout of an Image's raw buffer
type PixelFormat int32

const (
	// PixelFormatBGRA32 is 4 bytes per pixel, blue first
	PixelFormatBGRA32 PixelFormat = iota
	// PixelFormatDepth16 is one little-endian uint16 per pixel, in millimetres
	PixelFormatDepth16
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatBGRA32:
		return "BGRA32"
	case PixelFormatDepth16:
		return "DEPTH16"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int32(f))
	}
}

// BytesPerPixel returns the pixel size of the format, or 0 if unknown
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatBGRA32:
		return 4
	case PixelFormatDepth16:
		return 2
	default:
		return 0
	}
}

type Image struct {
	Format PixelFormat
	Width  int
	Height int
	Stride int
	Data   []byte
}

// Clone returns a copy of img that shares no memory with it
func (img Image) Clone() Image {
	out := img
	out.Data = make([]byte, len(img.Data))
	copy(out.Data, img.Data)
	return out
}

// Validate checks that the buffer is large enough for the declared geometry
func (img Image) Validate() error {
	bpp := img.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unsupported pixel format %s", img.Format)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", img.Width, img.Height)
	}
	if img.Stride < img.Width*bpp {
		return fmt.Errorf("stride %d too small for width %d", img.Stride, img.Width)
	}
	if len(img.Data) < img.Stride*(img.Height-1)+img.Width*bpp {
		return fmt.Errorf("buffer of %d bytes too small for %dx%d stride %d", len(img.Data), img.Width, img.Height, img.Stride)
	}
	return nil
}

// Frame is one synchronized color+depth capture. Timestamp is the device
// clock in microseconds and never decreases across a session.
type Frame struct {
	Timestamp uint64
	Color     Image
	Depth     Image
}

// SpoolEntry identifies a frame persisted to disk and waiting for upload.
// Dir is the camera folder the frame was written under, so a folder switch
// between spooling and upload does not lose track of it.
type SpoolEntry struct {
	Timestamp uint64
	Dir       string
}
