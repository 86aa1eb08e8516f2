package statichost_test

import (
	"context"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gemini "github.com/knowfox/gemini"
	"github.com/knowfox/gemini/internal/limiter"
	"github.com/knowfox/gemini/internal/statichost"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type tcpAddr struct{ ip string }

func (a tcpAddr) Network() string { return "tcp" }
func (a tcpAddr) String() string  { return a.ip + ":54321" }

func TestStatic_ServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.gmi"), []byte("hi there"), 0o600))

	s := statichost.New([]statichost.Entry{{RootDirectory: dir}}, 0, nil)
	require.True(t, s.Start())

	u := mustURL(t, "gemini://example:1965/hello.gmi")
	resp, handled := s.Respond(u, tcpAddr{"10.0.0.1"}, nil)
	require.True(t, handled)
	require.Equal(t, gemini.StatusSuccess, resp.Status)
	defer resp.Body.Close()
}

func TestStatic_DirectoryWithoutTrailingSlashRedirects(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	s := statichost.New([]statichost.Entry{{RootDirectory: dir, AllowDirectoryBrowsing: true}}, 0, nil)
	require.True(t, s.Start())

	u := mustURL(t, "gemini://example:1965/sub")
	resp, handled := s.Respond(u, tcpAddr{"10.0.0.1"}, nil)
	require.True(t, handled)
	assert.Equal(t, gemini.StatusPermanentRedirect, resp.Status)
	assert.Equal(t, "/sub/", resp.Meta)
}

func TestStatic_PathEscapeIsBadRequest(t *testing.T) {
	dir := t.TempDir()
	s := statichost.New([]statichost.Entry{{RootDirectory: dir}}, 0, nil)
	require.True(t, s.Start())

	u := mustURL(t, "gemini://example:1965/../etc/passwd")
	resp, handled := s.Respond(u, tcpAddr{"10.0.0.1"}, nil)
	require.True(t, handled)
	assert.Equal(t, gemini.StatusBadRequest, resp.Status)
}

func TestStatic_DirectoryListingOrdersDirsBeforeFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "asub"), 0o700))

	s := statichost.New([]statichost.Entry{{RootDirectory: dir, AllowDirectoryBrowsing: true}}, 0, nil)
	require.True(t, s.Start())

	u := mustURL(t, "gemini://example:1965/")
	resp, handled := s.Respond(u, tcpAddr{"10.0.0.1"}, nil)
	require.True(t, handled)
	require.Equal(t, gemini.StatusSuccess, resp.Status)

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])
	assert.Less(t, indexOf(body, "asub/"), indexOf(body, "b.txt"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestStatic_RemoteRangeRestrictsAccept(t *testing.T) {
	dir := t.TempDir()
	s := statichost.New([]statichost.Entry{{
		RootDirectory: dir,
		RemoteRanges:  []string{"10.0.0.0/24"},
	}}, 0, nil)
	require.True(t, s.Start())

	u := mustURL(t, "gemini://example:1965/")
	assert.True(t, s.Accept(u, tcpAddr{"10.0.0.5"}, nil))
	assert.False(t, s.Accept(u, tcpAddr{"192.168.1.1"}, nil))
}

func TestStatic_HostSpecWildcardAcceptsAny(t *testing.T) {
	dir := t.TempDir()
	s := statichost.New([]statichost.Entry{{RootDirectory: dir, Hosts: []string{"*"}}}, 0, nil)
	require.True(t, s.Start())

	u := mustURL(t, "gemini://anything.example:1965/")
	assert.True(t, s.Accept(u, tcpAddr{"10.0.0.1"}, nil))
}

func TestStatic_ExhaustedLimiterYieldsServerUnavailable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.gmi"), []byte("hi there"), 0o600))

	s := statichost.New([]statichost.Entry{{RootDirectory: dir}}, 0, nil)
	require.True(t, s.Start())
	s.Limiter = limiter.New(1)

	release, ok := s.Limiter.Take(context.Background())
	require.True(t, ok)
	defer release()

	u := mustURL(t, "gemini://example:1965/hello.gmi")
	resp, handled := s.Respond(u, tcpAddr{"10.0.0.1"}, nil)
	require.True(t, handled)
	assert.Equal(t, gemini.StatusServerUnavailable, resp.Status)
}

func TestStatic_ServeFileReleasesPermitOnBodyClose(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.gmi"), []byte("hi there"), 0o600))

	s := statichost.New([]statichost.Entry{{RootDirectory: dir}}, 0, nil)
	require.True(t, s.Start())
	s.Limiter = limiter.New(1)

	u := mustURL(t, "gemini://example:1965/hello.gmi")
	resp, handled := s.Respond(u, tcpAddr{"10.0.0.1"}, nil)
	require.True(t, handled)
	require.Equal(t, gemini.StatusSuccess, resp.Status)

	// The permit must still be held while the body is open...
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, ok := s.Limiter.Take(probeCtx)
	probeCancel()
	assert.False(t, ok, "expected no free permit while the file body is still open")

	require.NoError(t, resp.Body.Close())

	// ...and returned once the body closes.
	release, ok := s.Limiter.Take(context.Background())
	require.True(t, ok, "expected a free permit after the file body was closed")
	release()
}

var _ net.Addr = tcpAddr{}
