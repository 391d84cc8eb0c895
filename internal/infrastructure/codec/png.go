package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"

	"depthcap/internal/core/domain"
	"depthcap/pkg/optimize"
)

// PNGCodec stores BGRA32 color frames as 8-bit RGBA PNGs and DEPTH16 frames
// as 16-bit grayscale PNGs, which keeps depth lossless.
type PNGCodec struct {
	encoder png.Encoder
	buffers *optimize.BufferPool
}

func NewPNGCodec() *PNGCodec {
	return &PNGCodec{
		encoder: png.Encoder{
			CompressionLevel: png.BestSpeed,
			BufferPool:       &optimize.PNGEncoderPool{},
		},
		buffers: optimize.NewBufferPool(256<<10, 8<<20),
	}
}

func (c *PNGCodec) Extension() string {
	return ".png"
}

func (c *PNGCodec) Encode(img domain.Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s image: %w", img.Format, err)
	}

	var src image.Image
	switch img.Format {
	case domain.PixelFormatBGRA32:
		src = bgraToNRGBA(img)
	case domain.PixelFormatDepth16:
		src = depthToGray16(img)
	default:
		return nil, fmt.Errorf("encode: unsupported pixel format %s", img.Format)
	}

	buf := c.buffers.Get()
	defer c.buffers.Put(buf)
	if err := c.encoder.Encode(buf, src); err != nil {
		return nil, fmt.Errorf("encode %s png: %w", img.Format, err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func bgraToNRGBA(img domain.Image) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Data[y*img.Stride : y*img.Stride+img.Width*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+img.Width*4]
		for x := 0; x < len(src); x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
	return out
}

func depthToGray16(img domain.Image) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Data[y*img.Stride : y*img.Stride+img.Width*2]
		dst := out.Pix[y*out.Stride : y*out.Stride+img.Width*2]
		for x := 0; x < len(src); x += 2 {
			binary.BigEndian.PutUint16(dst[x:], binary.LittleEndian.Uint16(src[x:]))
		}
	}
	return out
}
