package document

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Mail handles RFC 5322 messages saved as .eml files.
type Mail struct{}

// Envelope is the header summary of a saved message.
type Envelope struct {
	From    string
	To      string
	Subject string
	Date    time.Time
}

func (m Mail) ExtractText(ctx context.Context, path string) (string, error) {
	env, body, err := m.read(ctx, path)
	if err != nil {
		return "", err
	}
	return formatMail(env, body), nil
}

// Envelope reads only the headers of the message at path.
func (m Mail) Envelope(ctx context.Context, path string) (Envelope, error) {
	env, _, err := m.read(ctx, path)
	return env, err
}

func (m Mail) PageCount(ctx context.Context, path string) (int, error) {
	text, err := m.ExtractText(ctx, path)
	if err != nil {
		return 0, err
	}
	return len(paginate(text)), nil
}

func (m Mail) RenderPage(ctx context.Context, path string, page int, dpi float64) (image.Image, error) {
	text, err := m.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	pages := paginate(text)
	if err := checkPage(page, len(pages)); err != nil {
		return nil, err
	}
	return renderText(pages[page], dpi), nil
}

func (Mail) read(ctx context.Context, path string) (Envelope, string, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return Envelope{}, "", fmt.Errorf("open mail: %w", err)
	}
	defer f.Close()

	mr, err := mail.CreateReader(f)
	if err != nil && !message.IsUnknownCharset(err) {
		return Envelope{}, "", fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	env := Envelope{
		From:    headerText(mr.Header, "From"),
		To:      headerText(mr.Header, "To"),
		Subject: headerText(mr.Header, "Subject"),
	}
	if date, err := mr.Header.Date(); err == nil {
		env.Date = date
	}

	var body strings.Builder
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return env, body.String(), fmt.Errorf("read mail part: %w", err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && contentType != "text/plain" {
			continue
		}
		if _, err := io.Copy(&body, part.Body); err != nil {
			return env, body.String(), fmt.Errorf("read mail body: %w", err)
		}
		body.WriteString("\n")
	}
	return env, body.String(), nil
}

func headerText(h mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return v
	}
	raw := h.Get(key)
	dec := new(mime.WordDecoder)
	if v, err := dec.DecodeHeader(raw); err == nil {
		return v
	}
	return raw
}

func formatMail(env Envelope, body string) string {
	var b strings.Builder
	if env.From != "" {
		fmt.Fprintf(&b, "From: %s\n", env.From)
	}
	if env.To != "" {
		fmt.Fprintf(&b, "To: %s\n", env.To)
	}
	if env.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	}
	if !env.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", env.Date.Format(time.RFC1123Z))
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}
