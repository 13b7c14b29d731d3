package mbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mailfetch/model"
)

type fixture struct {
	from    string
	subject string
}

func writeMbox(t *testing.T, name string, msgs []fixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create mbox: %v", err)
	}
	defer file.Close()

	w := mboxlib.NewWriter(file)
	for _, msg := range msgs {
		mw, err := w.CreateMessage("MAILER-DAEMON", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("create message: %v", err)
		}
		raw := "From: " + msg.from + "\r\n" +
			"Subject: " + msg.subject + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"report " + msg.subject + "\r\n"
		if _, err := io.WriteString(mw, raw); err != nil {
			t.Fatalf("write message: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return path
}

func TestMailbox_SearchAndFetch(t *testing.T) {
	path := writeMbox(t, "export.mbox", []fixture{
		{from: "Reports <REPORTS@example.jp>", subject: "march"},
		{from: "noise@example.com", subject: "newsletter"},
		{from: "=?UTF-8?Q?Jos=C3=A9?= <reports@example.jp>", subject: "april"},
	})

	m, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer m.Close()

	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}

	ctx := context.Background()
	if _, err := m.Search(ctx, "reports@example.jp"); !errors.Is(err, model.ErrNotSelected) {
		t.Fatalf("Search() before select error = %v, want ErrNotSelected", err)
	}
	if err := m.SelectFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("SelectFolder() error = %v", err)
	}

	refs, err := m.Search(ctx, "reports@example.jp")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []model.MessageRef{1, 3}
	if len(refs) != len(want) {
		t.Fatalf("Search() = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("Search()[%d] = %v, want %v", i, refs[i], want[i])
		}
	}

	raw, err := m.Fetch(ctx, 3)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(string(raw), "Subject: april") {
		t.Errorf("Fetch(3) = %q, want april message", raw)
	}

	if _, err := m.Fetch(ctx, 4); !errors.Is(err, model.ErrFetch) {
		t.Errorf("Fetch(4) error = %v, want ErrFetch", err)
	}
	if _, err := m.Fetch(ctx, 0); !errors.Is(err, model.ErrFetch) {
		t.Errorf("Fetch(0) error = %v, want ErrFetch", err)
	}

	empty, err := m.Search(ctx, "nobody@example.org")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Search() without match = %#v, want empty slice", empty)
	}
}

func TestMailbox_SelectFolder(t *testing.T) {
	path := writeMbox(t, "reportes.mbox", []fixture{{from: "a@example.com", subject: "x"}})
	m, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tests := []struct {
		folder  string
		wantErr bool
	}{
		{folder: "INBOX"},
		{folder: "inbox"},
		{folder: "reportes"},
		{folder: "Archive", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.folder, func(t *testing.T) {
			err := m.SelectFolder(context.Background(), tt.folder)
			if tt.wantErr != (err != nil) {
				t.Fatalf("SelectFolder(%q) error = %v, wantErr %v", tt.folder, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, model.ErrFolder) {
				t.Errorf("SelectFolder(%q) error = %v, want ErrFolder", tt.folder, err)
			}
		})
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := m.Fetch(context.Background(), 1); !errors.Is(err, model.ErrNotSelected) {
		t.Errorf("Fetch() after Close error = %v, want ErrNotSelected", err)
	}
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mbox"), nil)
	if !errors.Is(err, model.ErrConnect) {
		t.Fatalf("Open() error = %v, want ErrConnect", err)
	}
	if _, err := Open("  ", nil); !errors.Is(err, model.ErrConnect) {
		t.Fatalf("Open(blank) error = %v, want ErrConnect", err)
	}
}
