// Package pdftest builds small, valid PDF documents for tests that need a real backend.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Square is the black square MinimalPDF paints, in PDF points from the bottom-left corner
const (
	SquareX    = 10
	SquareY    = 10
	SquareSize = 20
)

// MinimalPDF returns a single-page document of width x height points with a black
// square painted on a blank page.
func MinimalPDF(width, height int) []byte {
	content := fmt.Sprintf("0 0 0 rg %d %d %d %d re f", SquareX, SquareY, SquareSize, SquareSize)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << >> /Contents 4 0 R >>", width, height),
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// WriteFile writes MinimalPDF(width, height) into a temporary directory and returns its path
func WriteFile(tb testing.TB, width, height int) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "minimal.pdf")
	if err := os.WriteFile(path, MinimalPDF(width, height), 0644); err != nil {
		tb.Fatalf("Failed to write test document: %v", err)
	}
	return path
}
