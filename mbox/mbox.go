// Package mbox imports the messages of an mbox archive as documents of an
// entity: each message is saved as an .eml file and fed through the importer.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/apptrack/filter"
	"github.com/dhcgn/apptrack/folder"
)

const maxNameLen = 60

type Options struct {
	Path       string
	EntityID   string
	StagingDir string
	Filter     filter.MessageOptions
}

// Message is one message of an archive.
type Message struct {
	Index   int
	Subject string
	Date    time.Time
	Raw     []byte
}

// Envelope carries either a message or the error that ended reading one.
type Envelope struct {
	Message Message
	Err     error
}

// Reader streams the messages of an archive that pass the filter.
type Reader struct {
	path   string
	open   func() (io.ReadCloser, error)
	filter *filter.MessageFilter
	logger *slog.Logger
}

func NewReader(path string, opts filter.MessageOptions, logger *slog.Logger) (*Reader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	mf, err := filter.NewMessageFilter(opts)
	if err != nil {
		return nil, fmt.Errorf("message filter: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		path:   path,
		open:   func() (io.ReadCloser, error) { return os.Open(path) },
		filter: mf,
		logger: logger,
	}, nil
}

// Stream sends every accepted message to out. A message that cannot be read
// is sent as an error envelope and reading continues when the archive allows.
func (r *Reader) Stream(ctx context.Context, out chan<- Envelope) error {
	file, err := r.open()
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	reader := mboxlib.NewReader(file)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return r.emit(ctx, out, Envelope{Err: fmt.Errorf("message %d: %w", idx, err)})
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if err := r.emit(ctx, out, Envelope{Err: fmt.Errorf("message %d read: %w", idx, err)}); err != nil {
				return err
			}
			continue
		}
		if !r.filter.Allows(raw) {
			r.logger.Debug("message filtered", "path", r.path, "index", idx)
			continue
		}

		msg := parse(raw)
		msg.Index = idx
		if err := r.emit(ctx, out, Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func (r *Reader) emit(ctx context.Context, out chan<- Envelope, env Envelope) error {
	if env.Err != nil {
		r.logger.Error("mbox stream error", "path", r.path, "err", env.Err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

// parse reads subject and date. Unparseable headers leave the fields empty.
func parse(raw []byte) Message {
	msg := Message{Raw: raw}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return msg
	}
	defer mr.Close()
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}
	return msg
}

// CountMessages counts the messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return count(file)
}

func count(r io.Reader) (int, error) {
	reader := mboxlib.NewReader(r)
	n := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		_, _ = io.Copy(io.Discard, msgReader)
		n++
	}
}

// FileName derives the .eml name of a message from its date and subject.
func FileName(msg Message) string {
	name := strings.Join(strings.Fields(folder.Sanitize(msg.Subject)), " ")
	if len(name) > maxNameLen {
		name = strings.TrimSpace(name[:maxNameLen])
	}
	if name == "" {
		name = fmt.Sprintf("message %03d", msg.Index+1)
	}
	if !msg.Date.IsZero() {
		name = msg.Date.Format("2006-01-02") + " " + name
	}
	return name + ".eml"
}

// Stage writes msg into dir under its file name, suffixing the index when the
// name is taken.
func Stage(dir string, msg Message) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("staging dir: %w", err)
	}
	name := FileName(msg)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(name)
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), msg.Index, ext))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("stage message %d: %w", msg.Index, err)
	}
	if _, err := f.Write(msg.Raw); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("stage message %d: %w", msg.Index, err)
	}
	return path, f.Close()
}
