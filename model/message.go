package model

import (
	"context"
	"errors"
	"strconv"
)

var (
	ErrConnect     = errors.New("mailbox connect failed")
	ErrAuth        = errors.New("mailbox authentication failed")
	ErrFolder      = errors.New("mailbox folder selection failed")
	ErrSearch      = errors.New("mailbox search failed")
	ErrFetch       = errors.New("mailbox fetch failed")
	ErrNotSelected = errors.New("no folder selected")
)

// MessageRef identifies a message inside one open mailbox session. It is not
// meaningful across sessions.
type MessageRef uint32

func (r MessageRef) String() string {
	return strconv.FormatUint(uint64(r), 10)
}

// StoredFile describes a file written to the download directory.
type StoredFile struct {
	Name string
	Path string
	Size int64
}

// Mailbox is an authenticated mailbox connection. Search and Fetch are only
// valid after SelectFolder succeeded.
type Mailbox interface {
	SelectFolder(ctx context.Context, name string) error
	Search(ctx context.Context, sender string) ([]MessageRef, error)
	Fetch(ctx context.Context, ref MessageRef) ([]byte, error)
	Close() error
}
