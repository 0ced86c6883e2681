package provider

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrSize is the rendered QR edge length in pixels.
const qrSize = 256

// EncodeQR renders a QR auth payload as a base64 PNG data URI suitable for
// direct embedding by whatever surface displays it.
func EncodeQR(payload string) (string, error) {
	if payload == "" {
		return "", fmt.Errorf("empty QR payload")
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("encoding QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
