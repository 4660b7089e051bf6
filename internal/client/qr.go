package client

import (
	qrcode "github.com/skip2/go-qrcode"
)

// RenderPNG encodes the session payload as a QR code PNG of the given size
// in pixels, for embedding in the pairing dialog.
func RenderPNG(payload string, size int) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// RenderTerminal encodes the payload as a QR code drawn with half-block
// characters, for CLI use.
func RenderTerminal(payload string) (string, error) {
	q, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
