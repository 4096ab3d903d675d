// Package qr renders the QR artifact embedded in issued tickets.
package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 256

// Encode renders the ticket token into a PNG QR image. The token is the
// only payload; scanners resolve it through the check-in API.
func Encode(token string) ([]byte, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, imageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}
