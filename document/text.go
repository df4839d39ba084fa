package document

import (
	"context"
	"fmt"
	"image"
	"os"
)

// Text handles plain text files.
type Text struct{}

func (Text) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return string(data), nil
}

func (t Text) PageCount(ctx context.Context, path string) (int, error) {
	text, err := t.ExtractText(ctx, path)
	if err != nil {
		return 0, err
	}
	return len(paginate(text)), nil
}

func (t Text) RenderPage(ctx context.Context, path string, page int, dpi float64) (image.Image, error) {
	text, err := t.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	pages := paginate(text)
	if err := checkPage(page, len(pages)); err != nil {
		return nil, err
	}
	return renderText(pages[page], dpi), nil
}
