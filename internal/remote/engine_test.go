package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sambadeck/sambadeck/internal/command"
)

const (
	testUser     = "operator"
	testPassword = "correct-horse-battery"
)

// execRecord captures what the test server saw for one exec request.
type execRecord struct {
	Command string
	Stdin   string
}

// testServer is a minimal in-process SSH server: password auth, exec
// requests answered by a handler, and a real SFTP subsystem serving the
// local filesystem.
type testServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	signer   ssh.Signer
	handler  func(rec execRecord) (stdout, stderr string, exit uint32)
	records  chan execRecord
	slowSFTP atomic.Bool
}

func newTestServer(t *testing.T, handler func(execRecord) (string, string, uint32)) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return nil, nil
			}
			return nil, os.ErrPermission
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &testServer{
		listener: listener,
		config:   config,
		signer:   signer,
		handler:  handler,
		records:  make(chan execRecord, 16),
	}
	go s.serve()
	t.Cleanup(func() { listener.Close() })
	return s
}

func (s *testServer) creds() Credentials {
	addr := s.listener.Addr().(*net.TCPAddr)
	return Credentials{
		Username: testUser,
		Password: testPassword,
		Host:     addr.IP.String(),
		Port:     addr.Port,
	}
}

func (s *testServer) fingerprint() string {
	return ssh.FingerprintSHA256(s.signer.PublicKey())
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *testServer) handleConn(netConn net.Conn) {
	defer netConn.Close()
	sshConn, channels, requests, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(requests)

	for newChannel := range channels {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		channel, reqs, err := newChannel.Accept()
		if err != nil {
			return
		}
		go s.handleSession(channel, reqs)
	}
}

func (s *testServer) handleSession(channel ssh.Channel, reqs <-chan *ssh.Request) {
	defer channel.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			stdin, _ := io.ReadAll(channel)
			rec := execRecord{Command: payload.Command, Stdin: string(stdin)}
			select {
			case s.records <- rec:
			default:
			}

			stdout, stderr, exit := s.handler(rec)
			io.WriteString(channel, stdout)
			io.WriteString(channel.Stderr(), stderr)

			status := struct{ Status uint32 }{exit}
			channel.SendRequest("exit-status", false, ssh.Marshal(&status))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			var rwc io.ReadWriteCloser = channel
			if s.slowSFTP.Load() {
				rwc = slowChannel{channel}
			}
			server, err := sftp.NewServer(rwc)
			if err != nil {
				return
			}
			server.Serve()
			return
		default:
			req.Reply(false, nil)
		}
	}
}

// slowChannel throttles the server's reads so incoming SFTP write traffic
// backs up into the ssh flow-control window.
type slowChannel struct {
	ssh.Channel
}

func (c slowChannel) Read(p []byte) (int, error) {
	if len(p) > 256 {
		p = p[:256]
	}
	time.Sleep(5 * time.Millisecond)
	return c.Channel.Read(p)
}

func okHandler(rec execRecord) (string, string, uint32) {
	return "ok\n", "", 0
}

func testEngine(fingerprint string) *Engine {
	return NewEngine(Config{
		ConnectTimeout:     5 * time.Second,
		CommandTimeout:     5 * time.Second,
		HostKeyFingerprint: fingerprint,
	})
}

func TestExecuteSimpleCommand(t *testing.T) {
	srv := newTestServer(t, func(rec execRecord) (string, string, uint32) {
		if rec.Command == "testparm -s" {
			return "[global]\n", "loaded services\n", 0
		}
		return "", "unknown\n", 1
	})
	engine := testEngine("")

	result, err := engine.Execute(context.Background(), srv.creds(), command.ListShares())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d", result.ExitCode)
	}
	if result.Stdout != "[global]\n" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	srv := newTestServer(t, func(rec execRecord) (string, string, uint32) {
		return "", "no such user\n", 2
	})
	engine := testEngine("")

	spec, err := command.RemoveUser("ghost")
	if err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	result, err := engine.Execute(context.Background(), srv.creds(), spec)
	if err != nil {
		t.Fatalf("non-zero exit should not be an engine error: %v", err)
	}
	if result.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "no such user") {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestExecuteSudoStdinOrdering(t *testing.T) {
	srv := newTestServer(t, okHandler)
	engine := testEngine("")

	spec, err := command.AddUser("alice", "longpassword1")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, err := engine.Execute(context.Background(), srv.creds(), spec); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rec := <-srv.records
	if !strings.HasPrefix(rec.Command, "sudo -S -p '' -- sh -c ") {
		t.Errorf("elevated command not wrapped: %q", rec.Command)
	}
	// The session password arrives first, then the spec payload.
	want := testPassword + "\n" + spec.Stdin
	if rec.Stdin != want {
		t.Errorf("stdin = %q, want %q", rec.Stdin, want)
	}
	if strings.Contains(rec.Command, "longpassword1") {
		t.Error("account password leaked into command text")
	}
}

func TestExecuteFiltersSudoPrompt(t *testing.T) {
	srv := newTestServer(t, func(rec execRecord) (string, string, uint32) {
		return "done\n", "[sudo] password for operator: \nreal diagnostic\n", 0
	})
	engine := testEngine("")

	spec := command.ListUsers()
	result, err := engine.Execute(context.Background(), srv.creds(), spec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(result.Stderr, "[sudo]") {
		t.Errorf("sudo prompt not filtered: %q", result.Stderr)
	}
	if !strings.Contains(result.Stderr, "real diagnostic") {
		t.Errorf("real stderr lost: %q", result.Stderr)
	}
}

func TestExecuteAuthFailure(t *testing.T) {
	srv := newTestServer(t, okHandler)
	engine := testEngine("")

	creds := srv.creds()
	creds.Password = "wrong"
	_, err := engine.Execute(context.Background(), creds, command.ListShares())
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindAuthFailure {
		t.Errorf("kind = %v, want auth failure", KindOf(err))
	}
}

func TestExecuteCommandTimeout(t *testing.T) {
	srv := newTestServer(t, func(rec execRecord) (string, string, uint32) {
		time.Sleep(2 * time.Second)
		return "", "", 0
	})
	engine := NewEngine(Config{
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 200 * time.Millisecond,
	})

	start := time.Now()
	_, err := engine.Execute(context.Background(), srv.creds(), command.ListShares())
	if err == nil {
		t.Fatal("expected timeout")
	}
	if KindOf(err) != KindCommandTimeout {
		t.Errorf("kind = %v, want command timeout", KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("timeout not enforced promptly: %v", elapsed)
	}
}

func TestHostKeyPinning(t *testing.T) {
	srv := newTestServer(t, okHandler)

	// Correct fingerprint connects.
	pinned := testEngine(srv.fingerprint())
	if _, err := pinned.Execute(context.Background(), srv.creds(), command.ListShares()); err != nil {
		t.Fatalf("pinned connect failed: %v", err)
	}

	// Wrong fingerprint refuses.
	wrong := testEngine("SHA256:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	_, err := wrong.Execute(context.Background(), srv.creds(), command.ListShares())
	if err == nil {
		t.Fatal("expected host key mismatch")
	}
	if KindOf(err) != KindTransportError {
		t.Errorf("kind = %v, want transport error", KindOf(err))
	}
}

func TestSFTPWriteAndRead(t *testing.T) {
	srv := newTestServer(t, okHandler)
	engine := testEngine("")

	dir := t.TempDir()
	target := filepath.Join(dir, "upload.bin")
	payload := bytes.Repeat([]byte("sambadeck"), 40000) // ~360 KiB

	n, err := engine.SFTPWrite(context.Background(), srv.creds(), target, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("SFTPWrite: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("wrote %d bytes, want %d", n, len(payload))
	}

	ondisk, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(ondisk, payload) {
		t.Error("uploaded content mismatch")
	}

	stream, err := engine.SFTPRead(context.Background(), srv.creds(), target)
	if err != nil {
		t.Fatalf("SFTPRead: %v", err)
	}
	defer stream.Close()

	downloaded, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !bytes.Equal(downloaded, payload) {
		t.Error("downloaded content mismatch")
	}
}

// countingReader serves an endless byte stream and records how much the
// copy loop has pulled from it.
type countingReader struct {
	n atomic.Int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	r.n.Add(int64(len(p)))
	return len(p), nil
}

func TestSFTPWriteBackpressure(t *testing.T) {
	srv := newTestServer(t, okHandler)
	srv.slowSFTP.Store(true)
	engine := testEngine("")

	target := filepath.Join(t.TempDir(), "slow.bin")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &countingReader{}
	done := make(chan struct{})
	go func() {
		engine.SFTPWrite(ctx, srv.creds(), target, src)
		close(done)
	}()

	// Against a consumer draining a few hundred bytes per tick, the ssh
	// window and the sftp request window fill almost immediately. From then
	// on the copy loop must suspend the producer instead of buffering.
	time.Sleep(2 * time.Second)
	first := src.n.Load()
	time.Sleep(1 * time.Second)
	second := src.n.Load()

	// ssh channel window plus the sftp client's in-flight request window
	// plus one copy buffer is well under this.
	const bound = 8 << 20
	if second > bound {
		t.Errorf("producer supplied %d bytes to a stalled consumer, want under %d", second, bound)
	}
	if growth := second - first; growth > 1<<20 {
		t.Errorf("producer still streaming while the consumer is stalled: %d bytes in one second", growth)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("write did not unblock after cancellation")
	}
}

func TestSFTPReadCancellation(t *testing.T) {
	srv := newTestServer(t, okHandler)
	engine := testEngine("")

	dir := t.TempDir()
	target := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(target, bytes.Repeat([]byte("x"), 1<<20), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := engine.SFTPRead(ctx, srv.creds(), target)
	if err != nil {
		t.Fatalf("SFTPRead: %v", err)
	}

	buf := make([]byte, 4096)
	if _, err := stream.Read(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}

	cancel()
	// After cancellation the transport closes; reads must fail rather than
	// hang.
	deadline := time.After(3 * time.Second)
	readDone := make(chan error, 1)
	go func() {
		for {
			if _, err := stream.Read(buf); err != nil {
				readDone <- err
				return
			}
		}
	}()
	select {
	case <-readDone:
	case <-deadline:
		t.Fatal("read did not unblock after cancellation")
	}
	stream.Close()
}

func TestStat(t *testing.T) {
	srv := newTestServer(t, okHandler)
	engine := testEngine("")

	dir := t.TempDir()
	file := filepath.Join(dir, "exists.txt")
	if err := os.WriteFile(file, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	info, ok := engine.Stat(context.Background(), srv.creds(), file)
	if !ok {
		t.Fatal("expected stat to succeed")
	}
	if info.Size() != 5 || info.IsDir() {
		t.Errorf("unexpected info: size=%d dir=%v", info.Size(), info.IsDir())
	}

	if _, ok := engine.Stat(context.Background(), srv.creds(), filepath.Join(dir, "missing")); ok {
		t.Error("expected missing file to degrade to not-found")
	}

	// Connection failure also degrades to not-found.
	bad := srv.creds()
	bad.Port = 1
	shortEngine := NewEngine(Config{ConnectTimeout: 500 * time.Millisecond, CommandTimeout: time.Second})
	if _, ok := shortEngine.Stat(context.Background(), bad, file); ok {
		t.Error("expected connection failure to degrade to not-found")
	}
}

func TestFilterSudoPrompt(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"", ""},
		{"[sudo] password for alice: \nerror: boom\n", "error: boom\n"},
		{"Password:\n", ""},
		{"plain error\n", "plain error\n"},
	}
	for _, tc := range tests {
		if got := filterSudoPrompt(tc.in); got != tc.expected {
			t.Errorf("filterSudoPrompt(%q) = %q, want %q", tc.in, got, tc.expected)
		}
	}
}

func TestConnectTimeoutKind(t *testing.T) {
	engine := NewEngine(Config{ConnectTimeout: 200 * time.Millisecond, CommandTimeout: time.Second})
	// Reserved TEST-NET address: packets go nowhere, the dial times out.
	creds := Credentials{Username: "u", Password: "p", Host: "192.0.2.1", Port: 22}

	_, err := engine.Execute(context.Background(), creds, command.ListShares())
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := KindOf(err); kind != KindConnectTimeout && kind != KindTransportError {
		t.Errorf("kind = %v, want connect timeout or transport error", kind)
	}
}

func TestShellQuote(t *testing.T) {
	got := shellQuote("mv -f -- '/srv/a' '/srv/b'")
	want := `'mv -f -- '\''/srv/a'\'' '\''/srv/b'\'''`
	if got != want {
		t.Errorf("shellQuote = %s, want %s", got, want)
	}
}
