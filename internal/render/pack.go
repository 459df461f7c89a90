package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
)

// PackGray4 converts a PNG artifact into a packed 4bpp grayscale plane for
// display clients too memory-constrained to decode PNG.
//
// Requirements / behavior:
//
//   - the image width must be exactly width pixels
//   - the image height must be >= height; taller images are center-cropped
//   - packing is y-major, two pixels per byte, left pixel in the high
//     nibble: byteIndex = y*(width/2) + x/2
//   - width must be even so rows pack to whole bytes
func PackGray4(pngBytes []byte, width, height int) ([]byte, error) {
	if width <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("pack: width must be positive and even, got %d", width)
	}
	if height <= 0 {
		return nil, fmt.Errorf("pack: height must be positive, got %d", height)
	}

	img, _, err := image.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, fmt.Errorf("pack: decode artifact: %w", err)
	}

	b := img.Bounds()
	if b.Dx() != width {
		return nil, fmt.Errorf("pack: expected width %d, got %d", width, b.Dx())
	}
	if b.Dy() < height {
		return nil, fmt.Errorf("pack: expected height >= %d, got %d", height, b.Dy())
	}

	// Center-crop vertically when the capture is taller than the panel.
	startY := b.Min.Y + (b.Dy()-height)/2

	stride := width / 2
	out := make([]byte, stride*height)

	for y := 0; y < height; y++ {
		row := y * stride
		for x := 0; x < width; x += 2 {
			left := grayLevel(img.At(b.Min.X+x, startY+y))
			right := grayLevel(img.At(b.Min.X+x+1, startY+y))
			out[row+x/2] = left<<4 | right
		}
	}
	return out, nil
}

// grayLevel maps a pixel to a 4-bit gray level (0 = black, 15 = white).
// Transparent pixels count as white, matching the page background.
func grayLevel(c color.Color) byte {
	nrgba := color.NRGBAModel.Convert(c).(color.NRGBA)
	if nrgba.A < 128 {
		return 0x0F
	}
	g := color.GrayModel.Convert(c).(color.Gray)
	return g.Y >> 4
}
