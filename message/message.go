// Package message parses raw RFC 5322 messages and walks their MIME tree.
package message

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
)

var (
	ErrDecode = errors.New("part cannot be decoded")
	ErrWalked = errors.New("message parts already walked")
)

// Message is the read-only view of one fetched message.
type Message struct {
	Sender  string
	Subject string
	Header  gomessage.Header

	body   io.Reader
	walked bool
}

// Parse reads the header of raw and prepares the part tree for a single walk.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("parse message: empty input")
	}

	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	header := gomessage.Header{Header: th}

	return &Message{
		Sender:  DecodeText(header.Get("From")),
		Subject: DecodeText(header.Get("Subject")),
		Header:  header,
		body:    br,
	}, nil
}

// Walk returns a depth-first iterator over every part of the message,
// starting with the top-level entity. The iterator can be used once; walking
// again requires parsing the raw bytes again.
func (m *Message) Walk() (*Walker, error) {
	if m.walked {
		return nil, ErrWalked
	}
	m.walked = true
	return &Walker{pending: &node{header: m.Header, body: m.body}}, nil
}

// Walker yields parts in depth-first order. Containers are returned before
// their children.
type Walker struct {
	pending *node
	stack   []*textproto.MultipartReader
	depth   []int
}

// Next returns the next part or io.EOF once the tree is exhausted. Reading a
// part's Body is optional; unread content is skipped.
func (w *Walker) Next() (*Part, error) {
	n, err := w.advance()
	if err != nil {
		return nil, err
	}

	part := newPart(n.header, n.body)
	part.Depth = n.depth
	if boundary := part.Params["boundary"]; part.IsMultipart() && boundary != "" {
		w.stack = append(w.stack, textproto.NewMultipartReader(n.body, boundary))
		w.depth = append(w.depth, n.depth+1)
	}
	return part, nil
}

type node struct {
	header gomessage.Header
	body   io.Reader
	depth  int
}

func (w *Walker) advance() (node, error) {
	if w.pending != nil {
		n := *w.pending
		w.pending = nil
		return n, nil
	}

	for len(w.stack) > 0 {
		top := len(w.stack) - 1
		p, err := w.stack[top].NextPart()
		if errors.Is(err, io.EOF) {
			w.stack = w.stack[:top]
			w.depth = w.depth[:top]
			continue
		}
		if err != nil {
			return node{}, fmt.Errorf("read part: %w", err)
		}
		return node{header: gomessage.Header{Header: p.Header}, body: p, depth: w.depth[top]}, nil
	}

	return node{}, io.EOF
}

// Part is one node of the MIME tree. Body yields the payload with only the
// transfer encoding reversed, byte for byte as the sender encoded it; Text
// applies the charset. The Body of a multipart container is consumed by the
// walk of its children.
type Part struct {
	Header            gomessage.Header
	ContentType       string
	Params            map[string]string
	Disposition       string
	DispositionParams map[string]string
	Filename          string
	Depth             int
	Body              io.Reader

	// DecodeErr is set when the transfer encoding of the part is unknown.
	// Body then holds the undecoded payload.
	DecodeErr error
}

func newPart(header gomessage.Header, raw io.Reader) *Part {
	p := &Part{
		Header: header,
		Body:   raw,
	}

	p.ContentType, p.Params = parseContentType(header)
	p.Disposition, p.DispositionParams = parseDisposition(header)

	name := p.DispositionParams["filename"]
	if name == "" {
		name = p.Params["name"]
	}
	p.Filename = DecodeText(name)

	if !p.IsMultipart() {
		entity, err := gomessage.New(withoutCharset(header), raw)
		if entity != nil {
			p.Body = entity.Body
		}
		if err != nil {
			p.DecodeErr = fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	return p
}

// withoutCharset returns a copy of h whose Content-Type carries no charset,
// so that go-message reverses the transfer encoding and nothing else.
func withoutCharset(h gomessage.Header) gomessage.Header {
	t, params, err := h.ContentType()
	if err != nil {
		return h
	}
	if _, ok := params["charset"]; !ok {
		return h
	}
	clone := gomessage.Header{Header: h.Header.Copy()}
	delete(params, "charset")
	clone.SetContentType(t, params)
	return clone
}

func parseContentType(h gomessage.Header) (string, map[string]string) {
	raw := strings.TrimSpace(h.Get("Content-Type"))
	if raw == "" {
		return "text/plain", map[string]string{}
	}
	return parseMediaHeader(raw)
}

func parseDisposition(h gomessage.Header) (string, map[string]string) {
	raw := strings.TrimSpace(h.Get("Content-Disposition"))
	if raw == "" {
		return "", map[string]string{}
	}
	return parseMediaHeader(raw)
}

// parseMediaHeader splits a Content-Type or Content-Disposition value.
// Parameter values are returned without RFC 2047 decoding; newPart decodes
// the filename exactly once.
func parseMediaHeader(raw string) (string, map[string]string) {
	value, params, err := mime.ParseMediaType(raw)
	if err != nil || value == "" {
		return mediaTypeFallback(raw), looseParams(raw)
	}
	if params == nil {
		params = map[string]string{}
	}
	return strings.ToLower(value), params
}

func mediaTypeFallback(raw string) string {
	value, _, _ := strings.Cut(raw, ";")
	return strings.ToLower(strings.TrimSpace(value))
}

// looseParams recovers key=value parameters from a header value that
// mime.ParseMediaType rejects, such as an unquoted filename with spaces.
// The first occurrence of a key wins.
func looseParams(raw string) map[string]string {
	params := map[string]string{}
	segments := strings.Split(raw, ";")
	for _, segment := range segments[1:] {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if key == "" || value == "" {
			continue
		}
		if _, seen := params[key]; !seen {
			params[key] = value
		}
	}
	return params
}

// MainType returns the part of ContentType before the slash.
func (p *Part) MainType() string {
	main, _, _ := strings.Cut(p.ContentType, "/")
	return main
}

func (p *Part) IsMultipart() bool {
	return p.MainType() == "multipart"
}

// Text reads the body, converts text parts from their declared charset and
// returns the result. It fails with ErrDecode when the charset is unknown or
// the result is not valid UTF-8.
func (p *Part) Text() (string, error) {
	if p.DecodeErr != nil {
		return "", p.DecodeErr
	}
	body, err := io.ReadAll(p.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrDecode, err)
	}
	if cs := strings.ToLower(strings.TrimSpace(p.Params["charset"])); p.MainType() == "text" && cs != "" && cs != "utf-8" && cs != "us-ascii" {
		r, err := charset.Reader(cs, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if body, err = io.ReadAll(r); err != nil {
			return "", fmt.Errorf("%w: charset %s: %v", ErrDecode, cs, err)
		}
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: body is not valid utf-8", ErrDecode)
	}
	return string(body), nil
}
