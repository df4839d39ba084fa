package mbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dhcgn/apptrack/config"
	"github.com/dhcgn/apptrack/filter"
	"github.com/dhcgn/apptrack/folder"
	"github.com/dhcgn/apptrack/model"
	"github.com/dhcgn/apptrack/runner"
	"github.com/dhcgn/apptrack/state"
	"github.com/dhcgn/apptrack/stats"
)

const archive = `From alice@acme.example Mon Mar  4 09:00:00 2024
From: Alice <alice@acme.example>
To: me@example.com
Subject: Entretien chez Acme
Date: Mon, 04 Mar 2024 09:00:00 +0100

Bonjour, merci pour votre candidature.

From news@jobs.example Mon Mar  4 10:00:00 2024
From: Jobs <news@jobs.example>
Subject: Newsletter
Date: Mon, 04 Mar 2024 10:00:00 +0100

Offres de la semaine.

From bob@acme.example Tue Mar  5 15:30:00 2024
From: Bob <bob@acme.example>
Subject: Re: Candidature
Date: Tue, 05 Mar 2024 15:30:00 +0100

Nous revenons vers vous.
`

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func bytesReader(t *testing.T, data string, opts filter.MessageOptions) *Reader {
	t.Helper()
	r, err := NewReader("memory.mbox", opts, quietLogger)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	r.open = func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(data)), nil }
	return r
}

func collect(t *testing.T, r *Reader) []Message {
	t.Helper()
	out := make(chan Envelope, 10)
	done := make(chan error, 1)
	go func() {
		done <- r.Stream(context.Background(), out)
		close(out)
	}()
	var msgs []Message
	for env := range out {
		if env.Err != nil {
			t.Fatalf("stream envelope error: %v", env.Err)
		}
		msgs = append(msgs, env.Message)
	}
	if err := <-done; err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	return msgs
}

func TestStreamParsesHeaders(t *testing.T) {
	msgs := collect(t, bytesReader(t, archive, filter.MessageOptions{}))
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Subject != "Entretien chez Acme" {
		t.Fatalf("subject = %q", msgs[0].Subject)
	}
	want := time.Date(2024, 3, 4, 9, 0, 0, 0, time.FixedZone("", 3600))
	if !msgs[0].Date.Equal(want) {
		t.Fatalf("date = %v, want %v", msgs[0].Date, want)
	}
	if msgs[2].Index != 2 {
		t.Fatalf("index = %d, want 2", msgs[2].Index)
	}
	if !bytes.Contains(msgs[2].Raw, []byte("Nous revenons vers vous.")) {
		t.Fatalf("raw message lost its body: %q", msgs[2].Raw)
	}
}

func TestStreamFilters(t *testing.T) {
	tests := []struct {
		name string
		opts filter.MessageOptions
		want []string
	}{
		{"exclude header", filter.MessageOptions{ExcludeHeader: []string{`(?m)^Subject: Newsletter`}}, []string{"Entretien chez Acme", "Re: Candidature"}},
		{"include body", filter.MessageOptions{IncludeBody: []string{`candidature`}}, []string{"Entretien chez Acme"}},
		{"include header", filter.MessageOptions{IncludeHeader: []string{`bob@`}}, []string{"Re: Candidature"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := collect(t, bytesReader(t, archive, tt.opts))
			var got []string
			for _, m := range msgs {
				got = append(got, m.Subject)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("subjects = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewReaderRejectsMixedFilters(t *testing.T) {
	_, err := NewReader("a.mbox", filter.MessageOptions{IncludeHeader: []string{"a"}, ExcludeBody: []string{"b"}}, nil)
	if err == nil {
		t.Fatal("expected error for include and exclude filters")
	}
	if _, err := NewReader("  ", filter.MessageOptions{}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCountMessages(t *testing.T) {
	n, err := count(strings.NewReader(archive))
	if err != nil {
		t.Fatalf("count() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}

	path := filepath.Join(t.TempDir(), "archive.mbox")
	if err := os.WriteFile(path, []byte(archive), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := CountMessages(path); err != nil || n != 3 {
		t.Fatalf("CountMessages() = %d, %v", n, err)
	}
}

func TestFileName(t *testing.T) {
	date := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		msg  Message
		want string
	}{
		{Message{Subject: "Entretien chez Acme", Date: date}, "2024-03-04 Entretien chez Acme.eml"},
		{Message{Subject: "Re: a/b  c?"}, "Re ab c.eml"},
		{Message{Index: 4}, "message 005.eml"},
		{Message{Subject: strings.Repeat("x", 80)}, strings.Repeat("x", maxNameLen) + ".eml"},
	}
	for _, tt := range tests {
		if got := FileName(tt.msg); got != tt.want {
			t.Fatalf("FileName(%q) = %q, want %q", tt.msg.Subject, got, tt.want)
		}
	}
}

func TestStageAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	msg := Message{Subject: "Relance", Raw: []byte("Subject: Relance\n\nx\n")}
	first, err := Stage(dir, msg)
	if err != nil {
		t.Fatal(err)
	}
	msg.Index = 7
	second, err := Stage(dir, msg)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "Relance.eml" || filepath.Base(second) != "Relance_7.eml" {
		t.Fatalf("staged %s and %s", first, second)
	}
}

type fakeTarget struct {
	mu     sync.Mutex
	dir    string
	docs   map[string]time.Time
	events []stats.Event
}

func (f *fakeTarget) Import(ctx context.Context, id, source string) (folder.ImportResult, error) {
	dest := filepath.Join(f.dir, filepath.Base(source))
	if err := os.Rename(source, dest); err != nil {
		return folder.ImportResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[dest] = time.Time{}
	return folder.ImportResult{Document: model.DocumentRef{Path: dest}}, nil
}

func (f *fakeTarget) SetDocumentTimestamp(ctx context.Context, id, path string, ts time.Time) (model.DocumentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = ts
	return model.DocumentRef{Path: path, Timestamp: ts}, nil
}

func (f *fakeTarget) EmitEvent(evt stats.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func TestProducerImportsMessages(t *testing.T) {
	target := &fakeTarget{dir: t.TempDir(), docs: map[string]time.Time{}}
	staging := filepath.Join(t.TempDir(), "staging")
	reader := bytesReader(t, archive, filter.MessageOptions{ExcludeHeader: []string{"Newsletter"}})
	p := newProducer(reader, Options{EntityID: "e1", StagingDir: staging}, target)

	if err := p.run(context.Background()); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if p.Imported() != 2 || p.Failed() != 0 {
		t.Fatalf("imported %d failed %d", p.Imported(), p.Failed())
	}

	path := filepath.Join(target.dir, "2024-03-05 Re Candidature.eml")
	ts, ok := target.docs[path]
	if !ok {
		t.Fatalf("missing %s in %v", path, target.docs)
	}
	want := time.Date(2024, 3, 5, 15, 30, 0, 0, time.FixedZone("", 3600))
	if !ts.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", ts, want)
	}

	left, _ := os.ReadDir(staging)
	if len(left) != 0 {
		t.Fatalf("staging not empty: %d entries", len(left))
	}
	scanned := 0
	for _, evt := range target.events {
		if evt.Stage == stats.StageArchive && evt.Type == stats.EventTypeScanned {
			scanned++
		}
	}
	if scanned != 2 {
		t.Fatalf("scanned events = %d, want 2", scanned)
	}
}

func TestProducerWithRunner(t *testing.T) {
	root := t.TempDir()
	cfg := config.Config{DataDir: root, Workers: 2, DateLocale: "fr"}
	store := state.NewMemoryStore()
	r, err := runner.New(cfg, quietLogger, runner.Deps{Store: store})
	if err != nil {
		t.Fatalf("runner.New() error = %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	e, err := r.Add(ctx, model.Entity{Company: "Acme", Position: "Engineer"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "archive.mbox")
	if err := os.WriteFile(path, []byte(archive), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := NewProducer(Options{Path: path, EntityID: e.ID, StagingDir: filepath.Join(root, ".staging")}, r, quietLogger)
	if err != nil {
		t.Fatalf("NewProducer() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p.Imported() != 3 {
		t.Fatalf("imported %d, want 3", p.Imported())
	}

	got, err := r.Entity(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Documents) != 3 {
		t.Fatalf("documents = %d, want 3", len(got.Documents))
	}
	for _, doc := range got.Documents {
		if doc.Timestamp.IsZero() {
			t.Fatalf("document %s has no timestamp", doc.Path)
		}
		if filepath.Dir(doc.Path) != got.Folder {
			t.Fatalf("document %s outside folder %s", doc.Path, got.Folder)
		}
	}
}
