package objstore

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type bucket struct {
	mu    sync.Mutex
	objs  map[string]string
	auth  []string
	fails int
}

func (b *bucket) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if r.Method != http.MethodPut {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if b.fails > 0 {
			b.fails--
			http.Error(rw, "slow down", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.objs[r.URL.Path] = string(body)
		b.auth = append(b.auth, r.Header.Get("Authorization"))
	}
}

func newBucket(t *testing.T, fails int) (*bucket, *Client) {
	t.Helper()
	b := &bucket{objs: map[string]string{}, fails: fails}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL, Bucket: "runs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return b, c
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected an error without keys")
	}
	c, err := New(Config{Endpoint: "example.com", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.endpoint != "https://example.com" || c.region != "auto" {
		t.Fatalf("endpoint=%s region=%s", c.endpoint, c.region)
	}
}

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"a/b.snap.zst":     "a/b.snap.zst",
		"/a//b":            "a/b",
		`runs\x\y`:         "runs/x/y",
		"../../etc/passwd": "etc/passwd",
		"":                 "",
		"/":                "",
	}
	for in, want := range cases {
		if got := cleanKey(in); got != want {
			t.Fatalf("cleanKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMirror_UploadsRelativeToDataDir(t *testing.T) {
	b, c := newBucket(t, 1)
	dir := t.TempDir()
	p := filepath.Join(dir, "runs", "grow", "r1", "snapshots", "00000003.snap.zst")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("snap"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMirror(c, dir, MirrorOptions{Prefix: "/voxrule/", Workers: 1, Backoff: time.Millisecond}, nil)
	m.Enqueue(p)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere"))
	// let the retry run before Close cuts retries short
	deadline := time.Now().Add(5 * time.Second)
	for st := m.Stats(); st.UploadedTotal+st.FailedTotal < 2; st = m.Stats() {
		if time.Now().After(deadline) {
			t.Fatalf("uploads did not finish: %+v", st)
		}
		time.Sleep(time.Millisecond)
	}
	m.Close()
	m.Close()

	got, ok := b.objs["/runs/voxrule/runs/grow/r1/snapshots/00000003.snap.zst"]
	if !ok || got != "snap" {
		t.Fatalf("object missing, have %v", b.objs)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadedTotal != 1 || st.FailedTotal != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if len(b.auth) != 1 || !strings.HasPrefix(b.auth[0], "AWS4-HMAC-SHA256 Credential=AK/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("unexpected authorization %v", b.auth)
	}
}

func TestMirror_CloseStopsRetrying(t *testing.T) {
	b, c := newBucket(t, 1000)
	dir := t.TempDir()
	p := filepath.Join(dir, "final.snap.zst")
	if err := os.WriteFile(p, []byte("snap"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewMirror(c, dir, MirrorOptions{Workers: 1, Attempts: 5, Backoff: time.Hour}, nil)
	m.Enqueue(p)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatalf("Close waited on the retry backoff")
	}
	if st := m.Stats(); st.FailedTotal != 1 || st.UploadedTotal != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fails != 999 {
		t.Fatalf("want exactly one attempt, bucket saw %d", 1000-b.fails)
	}
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if st := m.Stats(); st.EnqueuedTotal != 0 {
		t.Fatalf("nil mirror stats %+v", st)
	}
}
