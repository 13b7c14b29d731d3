package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mailfetch/model"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
}

// Session is an authenticated IMAP connection. It is not safe for
// concurrent use.
type Session struct {
	opts     Options
	client   *imapclient.Client
	logger   *slog.Logger
	selected string

	closeOnce sync.Once
	closeErr  error
	stopClose func() bool
}

var _ model.Mailbox = (*Session)(nil)

// Open dials the server and logs in. Dial failures wrap model.ErrConnect,
// rejected credentials wrap model.ErrAuth.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: imap host is empty", model.ErrConnect)
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("%w: imap port must be positive", model.ErrConnect)
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{}

	if opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial imap %s: %v", model.ErrConnect, address, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: imap login as %s: %v", model.ErrAuth, opts.Username, err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username, "tls", opts.UseTLS)
	}

	s := &Session{
		opts:   opts,
		client: client,
		logger: logger,
	}
	s.stopClose = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	return s, nil
}

// SelectFolder opens name read-write. Failures wrap model.ErrFolder.
func (s *Session) SelectFolder(_ context.Context, name string) error {
	if name == "" {
		name = "INBOX"
	}
	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		return fmt.Errorf("%w: select %s: %v", model.ErrFolder, name, err)
	}
	s.selected = name
	if s.logger != nil {
		s.logger.Debug("imap mailbox selected", "mailbox", name, "messages", data.NumMessages)
	}
	return nil
}

// Search runs a server-side FROM search and returns matching UIDs in
// mailbox order. No match yields an empty slice.
func (s *Session) Search(_ context.Context, sender string) ([]model.MessageRef, error) {
	if s.selected == "" {
		return nil, model.ErrNotSelected
	}

	criteria := &imapv2.SearchCriteria{
		Header: []imapv2.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: from %q: %v", model.ErrSearch, sender, err)
	}

	uids := data.AllUIDs()
	refs := make([]model.MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, model.MessageRef(uid))
	}
	return refs, nil
}

// Fetch returns the full RFC 822 message for ref without setting \Seen.
func (s *Session) Fetch(_ context.Context, ref model.MessageRef) ([]byte, error) {
	if s.selected == "" {
		return nil, model.ErrNotSelected
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	options := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	cmd := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(ref)), options)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return nil, fmt.Errorf("%w: uid %d: %v", model.ErrFetch, ref, err)
		}
		return nil, fmt.Errorf("%w: uid %d not found", model.ErrFetch, ref)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: uid %d: %v", model.ErrFetch, ref, err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("%w: uid %d: empty body", model.ErrFetch, ref)
	}

	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("%w: uid %d: %v", model.ErrFetch, ref, err)
	}
	return raw, nil
}

// Close ends the session: CLOSE when a folder is selected, then LOGOUT, then
// the connection is closed. Subsequent calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.stopClose != nil {
			s.stopClose()
		}
		if s.selected != "" {
			if err := s.client.UnselectAndExpunge().Wait(); err != nil && s.logger != nil {
				s.logger.Warn("imap close failed", "mailbox", s.selected, "err", err)
			}
			s.selected = ""
		}
		if err := s.client.Logout().Wait(); err != nil {
			s.closeErr = fmt.Errorf("imap logout: %w", err)
		}
		if err := s.client.Close(); err != nil {
			if s.logger != nil {
				s.logger.Debug("imap connection closed", "err", err)
			}
		}
	})
	return s.closeErr
}
