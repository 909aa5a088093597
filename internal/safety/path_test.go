package safety

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "mods/sub/c.jar")
	if err != nil {
		t.Fatalf("SafeJoinUnder returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	if _, err := SafeJoinUnder(root, "../escape.txt"); err == nil {
		t.Fatal("expected traversal path to fail")
	}
	if _, err := SafeJoinUnder(root, "/abs/path.txt"); err == nil {
		t.Fatal("expected absolute path to fail")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.txt"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); err == nil {
		t.Fatal("expected escape path to fail")
	}
}

func TestCleanSlashPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "mods/sodium.jar", want: "mods/sodium.jar"},
		{in: "config/./a//b.toml", want: "config/a/b.toml"},
		{in: "mods/../mods/x.jar", want: "mods/x.jar"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "../x", wantErr: true},
		{in: "mods/../../x", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: `mods\x.jar`, wantErr: true},
		{in: "C:/Windows", wantErr: true},
	}

	for _, tt := range tests {
		got, err := CleanSlashPath(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CleanSlashPath(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CleanSlashPath(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CleanSlashPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlashRel(t *testing.T) {
	root := t.TempDir()
	got, err := SlashRel(root, filepath.Join(root, "shaderpacks", "nested", "pack.zip"))
	if err != nil {
		t.Fatalf("SlashRel error: %v", err)
	}
	if got != "shaderpacks/nested/pack.zip" {
		t.Errorf("unexpected rel path %q", got)
	}
	if _, err := SlashRel(root, filepath.Dir(root)); err == nil {
		t.Error("expected error for path outside root")
	}
}

func TestReadAllWithLimit(t *testing.T) {
	_, err := ReadAllWithLimit(strings.NewReader("abc"), 2)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	data, err := ReadAllWithLimit(io.NopCloser(strings.NewReader("abc")), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("unexpected data: %q", string(data))
	}
}

func TestValidateHTTPURL(t *testing.T) {
	if _, err := ValidateHTTPURL("https://cdn.modrinth.com/data/x/y.jar"); err != nil {
		t.Errorf("expected valid URL, got %v", err)
	}
	for _, raw := range []string{"ftp://host/x", "file:///etc/passwd", "https://user:pw@host/x", "https:///nohost"} {
		if _, err := ValidateHTTPURL(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestNewHTTPClientSetsUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := NewHTTPClient(5*time.Second, "packsync-test/1.0")
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got != "packsync-test/1.0" {
		t.Errorf("expected user agent to be set, got %q", got)
	}
}
