package document

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts text with a pure Go reader. Pages are previewed as their
// text layout; vector content and embedded images are not drawn.
type PDF struct{}

func (PDF) ExtractText(ctx context.Context, path string) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	defer recoverDecode(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	data, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(data), nil
}

func (PDF) PageCount(ctx context.Context, path string) (count int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer recoverDecode(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

func (PDF) RenderPage(ctx context.Context, path string, page int, dpi float64) (img image.Image, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer recoverDecode(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	if err := checkPage(page, r.NumPage()); err != nil {
		return nil, err
	}
	p := r.Page(page + 1)
	if p.V.IsNull() {
		return nil, fmt.Errorf("pdf page %d is empty", page)
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return nil, fmt.Errorf("pdf page %d text: %w", page, err)
	}
	return renderText(strings.TrimSpace(text), dpi), nil
}

// recoverDecode turns a panic in the PDF decoder into an error.
func recoverDecode(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", errDecodeRecovered, r)
	}
}
