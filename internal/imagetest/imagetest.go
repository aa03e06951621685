// Package imagetest builds small encoded images for tests.
package imagetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// Split returns a w x h image whose left half is left and right half is right.
func Split(w, h int, left, right color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, left)
			} else {
				img.Set(x, y, right)
			}
		}
	}
	return img
}

// PNG encodes img as PNG.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes img as JPEG at maximum quality.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

// WithOrientation inserts an EXIF APP1 segment carrying the given
// orientation tag right after the JPEG SOI marker.
func WithOrientation(t testing.TB, jpg []byte, orientation uint16) []byte {
	t.Helper()
	if len(jpg) < 2 || jpg[0] != 0xff || jpg[1] != 0xd8 {
		t.Fatal("not a JPEG stream")
	}

	var exif bytes.Buffer
	exif.WriteString("Exif\x00\x00")
	exif.WriteString("MM")
	be := binary.BigEndian
	_ = binary.Write(&exif, be, uint16(0x002a))
	_ = binary.Write(&exif, be, uint32(8))
	_ = binary.Write(&exif, be, uint16(1))
	_ = binary.Write(&exif, be, uint16(0x0112))
	_ = binary.Write(&exif, be, uint16(3))
	_ = binary.Write(&exif, be, uint32(1))
	_ = binary.Write(&exif, be, orientation)
	_ = binary.Write(&exif, be, uint16(0))
	_ = binary.Write(&exif, be, uint32(0))

	var out bytes.Buffer
	out.Write(jpg[:2])
	out.Write([]byte{0xff, 0xe1})
	_ = binary.Write(&out, be, uint16(exif.Len()+2))
	out.Write(exif.Bytes())
	out.Write(jpg[2:])
	return out.Bytes()
}

// WithPNGSize rewrites the IHDR dimensions of an encoded PNG and fixes the
// chunk CRC. The pixel data is left alone, so only the header lies.
func WithPNGSize(t testing.TB, data []byte, width, height uint32) []byte {
	t.Helper()
	if len(data) < 33 || string(data[12:16]) != "IHDR" {
		t.Fatal("not a PNG stream")
	}

	out := bytes.Clone(data)
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}
