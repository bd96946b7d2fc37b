package share

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// DefaultQRSize is the edge length in pixels of generated QR codes.
const DefaultQRSize = 256

// QRCode renders content as a PNG QR code of size x size pixels.
func QRCode(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("share: failed to encode QR code: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("share: failed to scale QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("share: failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
