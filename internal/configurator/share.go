package configurator

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the QR image edge in pixels when none is configured.
const DefaultQRSize = 256

// ShareURL returns the public result page for code.
func ShareURL(publicBaseURL, code string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/configurator/result/" + Normalize(code)
}

// QRPNG renders the share URL for code as a PNG QR image.
func QRPNG(publicBaseURL, code string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(ShareURL(publicBaseURL, code), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("configurator: render qr: %w", err)
	}
	return png, nil
}
