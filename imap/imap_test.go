package imap

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/dhcgn/mailfetch/model"
)

const (
	testUser = "reportes"
	testPass = "secret"
)

func startServer(t *testing.T) (string, int) {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("create INBOX: %v", err)
	}
	mem.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imapv2.CapSet{
			imapv2.CapIMAP4rev1: {},
			imapv2.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// appendMessage stores raw in INBOX through a plain client connection.
func appendMessage(t *testing.T, host string, port int, raw string) {
	t.Helper()
	client, err := imapclient.DialInsecure(net.JoinHostPort(host, strconv.Itoa(port)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if err := client.Login(testUser, testPass).Wait(); err != nil {
		t.Fatalf("login: %v", err)
	}

	cmd := client.Append("INBOX", int64(len(raw)), &imapv2.AppendOptions{Time: time.Now()})
	if _, err := cmd.Write([]byte(raw)); err != nil {
		t.Fatalf("append write: %v", err)
	}
	if err := cmd.Close(); err != nil {
		t.Fatalf("append close: %v", err)
	}
	if _, err := cmd.Wait(); err != nil {
		t.Fatalf("append wait: %v", err)
	}
	_ = client.Logout().Wait()
}

func message(from, subject string) string {
	return "From: " + from + "\r\n" +
		"To: reportes@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body of " + subject + "\r\n"
}

func testOptions(host string, port int) Options {
	return Options{Host: host, Port: port, Username: testUser, Password: testPass}
}

func TestSession_SearchAndFetch(t *testing.T) {
	host, port := startServer(t)
	appendMessage(t, host, port, message("KMC <kmc@example.jp>", "first"))
	appendMessage(t, host, port, message("other@example.com", "unrelated"))
	appendMessage(t, host, port, message("kmc@example.jp", "second"))

	ctx := context.Background()
	s, err := Open(ctx, testOptions(host, port), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Search(ctx, "kmc@example.jp"); !errors.Is(err, model.ErrNotSelected) {
		t.Fatalf("Search() before select error = %v, want ErrNotSelected", err)
	}

	if err := s.SelectFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("SelectFolder() error = %v", err)
	}

	refs, err := s.Search(ctx, "kmc@example.jp")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("Search() returned %d refs, want 2", len(refs))
	}
	if refs[0] >= refs[1] {
		t.Errorf("refs not in mailbox order: %v", refs)
	}

	wantSubjects := []string{"first", "second"}
	for i, ref := range refs {
		raw, err := s.Fetch(ctx, ref)
		if err != nil {
			t.Fatalf("Fetch(%d) error = %v", ref, err)
		}
		if !strings.Contains(string(raw), "Subject: "+wantSubjects[i]) {
			t.Errorf("Fetch(%d) = %q, want subject %q", ref, raw, wantSubjects[i])
		}
	}

	none, err := s.Search(ctx, "nobody@example.org")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Search() with no match = %#v, want empty slice", none)
	}

	if _, err := s.Fetch(ctx, model.MessageRef(9999)); !errors.Is(err, model.ErrFetch) {
		t.Errorf("Fetch(missing) error = %v, want ErrFetch", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestOpen_BadCredentials(t *testing.T) {
	host, port := startServer(t)
	opts := testOptions(host, port)
	opts.Password = "wrong"

	_, err := Open(context.Background(), opts, nil)
	if !errors.Is(err, model.ErrAuth) {
		t.Fatalf("Open() error = %v, want ErrAuth", err)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()

	_, err = Open(context.Background(), Options{Host: "127.0.0.1", Port: addr.Port, Username: testUser, Password: testPass}, nil)
	if !errors.Is(err, model.ErrConnect) {
		t.Fatalf("Open() error = %v, want ErrConnect", err)
	}
}

func TestOpen_InvalidOptions(t *testing.T) {
	if _, err := Open(context.Background(), Options{Port: 993}, nil); !errors.Is(err, model.ErrConnect) {
		t.Errorf("Open() without host error = %v, want ErrConnect", err)
	}
	if _, err := Open(context.Background(), Options{Host: "localhost"}, nil); !errors.Is(err, model.ErrConnect) {
		t.Errorf("Open() without port error = %v, want ErrConnect", err)
	}
}

func TestSelectFolder_Missing(t *testing.T) {
	host, port := startServer(t)
	s, err := Open(context.Background(), testOptions(host, port), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.SelectFolder(context.Background(), "NoSuchFolder"); !errors.Is(err, model.ErrFolder) {
		t.Fatalf("SelectFolder() error = %v, want ErrFolder", err)
	}
}
