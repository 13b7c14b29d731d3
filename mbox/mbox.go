// Package mbox serves an mbox export as a read-only mailbox so the pipeline
// can run without an IMAP server.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mailfetch/message"
	"github.com/dhcgn/mailfetch/model"
)

// Mailbox holds every message of one mbox file in memory. Message refs are
// 1-based positions in the file.
type Mailbox struct {
	path     string
	logger   *slog.Logger
	messages [][]byte
	senders  []string
	selected string
	closed   bool
}

// Open reads the whole mbox file at path.
func Open(path string, logger *slog.Logger) (*Mailbox, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: mbox path is empty", model.ErrConnect)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open mbox: %v", model.ErrConnect, err)
	}
	defer file.Close()

	m := &Mailbox{path: path, logger: logger}
	reader := mboxlib.NewReader(file)
	for idx := 1; ; idx++ {
		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", model.ErrConnect, idx, err)
		}
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d read: %v", model.ErrConnect, idx, err)
		}
		m.messages = append(m.messages, raw)
		m.senders = append(m.senders, m.sender(idx, raw))
	}

	if logger != nil {
		logger.Debug("mbox loaded", "path", path, "messages", len(m.messages))
	}
	return m, nil
}

func (m *Mailbox) sender(idx int, raw []byte) string {
	msg, err := message.Parse(raw)
	if err != nil {
		if m.logger != nil {
			m.logger.Debug("mbox message without readable header", "index", idx, "err", err)
		}
		return ""
	}
	return msg.Sender
}

// Len returns the number of messages in the file.
func (m *Mailbox) Len() int {
	return len(m.messages)
}

// SelectFolder accepts INBOX or the file name without extension; an mbox
// file holds exactly one folder.
func (m *Mailbox) SelectFolder(_ context.Context, name string) error {
	if m.closed {
		return fmt.Errorf("%w: mailbox closed", model.ErrFolder)
	}
	base := strings.TrimSuffix(filepath.Base(m.path), filepath.Ext(m.path))
	if !strings.EqualFold(name, "INBOX") && name != base {
		return fmt.Errorf("%w: %q not found in %s", model.ErrFolder, name, m.path)
	}
	m.selected = name
	if m.logger != nil {
		m.logger.Debug("mbox folder selected", "folder", name, "messages", len(m.messages))
	}
	return nil
}

// Search matches sender as a case-insensitive substring of the decoded From
// header, the way an IMAP FROM search does.
func (m *Mailbox) Search(ctx context.Context, sender string) ([]model.MessageRef, error) {
	if m.selected == "" {
		return nil, model.ErrNotSelected
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("%w: sender is empty", model.ErrSearch)
	}

	needle := strings.ToLower(sender)
	refs := make([]model.MessageRef, 0)
	for i, from := range m.senders {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrSearch, err)
		}
		if strings.Contains(strings.ToLower(from), needle) {
			refs = append(refs, model.MessageRef(i+1))
		}
	}
	return refs, nil
}

func (m *Mailbox) Fetch(_ context.Context, ref model.MessageRef) ([]byte, error) {
	if m.selected == "" {
		return nil, model.ErrNotSelected
	}
	if ref == 0 || int(ref) > len(m.messages) {
		return nil, fmt.Errorf("%w: message %s not in %s", model.ErrFetch, ref, m.path)
	}
	raw := m.messages[ref-1]
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *Mailbox) Close() error {
	m.closed = true
	m.selected = ""
	return nil
}
