package receipt

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"smartpos/internal/domain"
)

const (
	margin     = 12
	lineHeight = 15
)

// Render draws the slip in a fixed-width face on a white background.
func Render(v domain.Voucher, h Header) *image.RGBA {
	face := basicfont.Face7x13
	lines := Lines(v, h)

	width := margin*2 + Width*face.Advance
	height := margin*2 + len(lines)*lineHeight
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	for i, line := range lines {
		d.Dot = fixed.P(margin, margin+face.Ascent+i*lineHeight)
		d.DrawString(line)
	}
	return img
}

// WritePNG encodes the rendered slip to w.
func WritePNG(w io.Writer, v domain.Voucher, h Header) error {
	if err := png.Encode(w, Render(v, h)); err != nil {
		return fmt.Errorf("encode receipt %s: %w", v.VoucherNumber, err)
	}
	return nil
}

// PNG returns the encoded slip image.
func PNG(v domain.Voucher, h Header) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, v, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DirExporter saves one PNG per voucher into Dir.
type DirExporter struct {
	Dir    string
	Header Header
}

func NewDirExporter(dir string, h Header) (*DirExporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipt dir: %w", err)
	}
	return &DirExporter{Dir: dir, Header: h}, nil
}

// Export writes the voucher's receipt and returns the file path. The file is
// written under a temporary name and renamed so readers never see a partial
// image.
func (e *DirExporter) Export(ctx context.Context, v domain.Voucher) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(e.Dir, FileName(v))
	tmp, err := os.CreateTemp(e.Dir, ".receipt-*.png")
	if err != nil {
		return "", fmt.Errorf("create receipt file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := WritePNG(w, v, e.Header); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write receipt file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close receipt file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("save receipt file: %w", err)
	}
	return path, nil
}
