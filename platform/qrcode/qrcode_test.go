package qrcode

import (
	"bytes"
	"testing"
)

func TestPNG(t *testing.T) {
	png, err := PNG("https://verify.example.com/v/abc", 0)
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
	if _, err := PNG("", 0); err == nil {
		t.Fatal("expected error for empty content")
	}
}
