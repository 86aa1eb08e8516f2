// Package statichost implements the built-in multi-virtual-host static
// file host of spec.md §4.4: path-traversal-safe root mapping, directory
// listing, and a per-entry client-certificate thumbprint ACL.
package statichost

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crypto/x509"

	"github.com/sirupsen/logrus"

	gemini "github.com/knowfox/gemini"
	"github.com/knowfox/gemini/internal/iprange"
	"github.com/knowfox/gemini/internal/limiter"
)

// defaultFileHandleLimit bounds how many requests, across all entries, may
// have an open file or directory read in flight at once (spec.md §4.8,
// "shared host resources").
const defaultFileHandleLimit = 256

// Entry configures one virtual host served by a Static (spec.md §6.5,
// "Static file host config").
type Entry struct {
	RootDirectory          string
	AllowDirectoryBrowsing bool
	Hosts                  []string
	RemoteRanges           []string
	Thumbprints            []string

	compiledHosts  []hostSpec
	compiledRanges []iprange.Range
}

// Static is a gemini.Host serving static files from one or more Entry roots
// (spec.md §4.4). File and directory reads are gated by Limiter so a burst
// of requests against many entries cannot exhaust file descriptors (spec.md
// §4.8, "shared host resources").
type Static struct {
	Entries  []Entry
	priority uint16
	Log      logrus.FieldLogger
	Limiter  *limiter.Limiter
}

// New builds a Static host. priority should sit below the internal reserved
// range (spec.md §3, "Host").
func New(entries []Entry, priority uint16, log logrus.FieldLogger) *Static {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Static{
		Entries:  entries,
		priority: priority,
		Log:      log,
		Limiter:  limiter.New(defaultFileHandleLimit),
	}
}

var _ gemini.Host = (*Static)(nil)

// Priority implements gemini.Host.
func (s *Static) Priority() uint16 { return s.priority }

// Start validates that every entry's root directory exists and compiles its
// host specs and remote ranges (spec.md §4.4: "root directory (must
// exist)"). A false return discards this host from the chain.
func (s *Static) Start() bool {
	for i := range s.Entries {
		e := &s.Entries[i]
		info, err := os.Stat(e.RootDirectory)
		if err != nil || !info.IsDir() {
			s.Log.WithField("root", e.RootDirectory).Warn("static host root directory does not exist")
			return false
		}

		e.compiledHosts = make([]hostSpec, 0, len(e.Hosts))
		for _, h := range e.Hosts {
			e.compiledHosts = append(e.compiledHosts, compileHostSpec(h))
		}

		e.compiledRanges = make([]iprange.Range, 0, len(e.RemoteRanges))
		for _, r := range e.RemoteRanges {
			rng, err := iprange.Parse(r)
			if err != nil {
				s.Log.WithError(err).WithField("range", r).Warn("invalid remote range in static host entry")
				return false
			}
			e.compiledRanges = append(e.compiledRanges, rng)
		}
	}
	return true
}

// Stop implements gemini.Host; the static host holds no running resources.
func (s *Static) Stop() {}

// Dispose implements gemini.Host; nothing to release.
func (s *Static) Dispose() {}

// Accept reports whether any entry's host spec matches u.Host and, if that
// entry restricts remote ranges, whether remote falls within one of them
// (spec.md §4.4: "accept additionally checks remote-range membership").
func (s *Static) Accept(u *url.URL, remote net.Addr, cert *x509.Certificate) bool {
	e := s.matchEntry(u, remote)
	return e != nil
}

// Rewrite implements gemini.Host; the static host never rewrites the URL.
func (s *Static) Rewrite(u *url.URL, remote net.Addr, cert *x509.Certificate) (*url.URL, bool) {
	return u, true
}

// Respond implements gemini.Host per spec.md §4.4: certificate ACL, then
// path mapping, then directory/file handling.
func (s *Static) Respond(u *url.URL, remote net.Addr, cert *x509.Certificate) (*gemini.Response, bool) {
	e := s.matchEntry(u, remote)
	if e == nil {
		return nil, false
	}

	if len(e.Thumbprints) > 0 {
		if !thumbprintAllowed(e.Thumbprints, cert) {
			return gemini.NewResponse(gemini.StatusCertRequired, "Certificate Required"), true
		}
	}

	fullPath, err := mapPath(e.RootDirectory, u.Path)
	if err != nil {
		return gemini.NewResponse(gemini.StatusBadRequest, "Bad Request"), true
	}

	ctx, cancel := context.WithTimeout(context.Background(), gemini.DefaultIOTimeout)
	defer cancel()
	release, ok := s.Limiter.Take(ctx)
	if !ok {
		return gemini.NewResponse(gemini.StatusServerUnavailable, "Server Unavailable"), true
	}
	// release is handed off to serveFile, which ties it to the returned
	// response body's Close so the permit is held for as long as the file
	// stays open, not merely for the stat/open call itself. Every other
	// return path releases immediately via releasedOnReturn.
	releasedOnReturn := true
	defer func() {
		if releasedOnReturn {
			release()
		}
	}()

	info, err := os.Stat(fullPath)
	if err != nil {
		return gemini.NewResponse(gemini.StatusNotFound, "Not Found"), true
	}

	if info.IsDir() {
		if !strings.HasSuffix(u.Path, "/") {
			redirected := *u
			redirected.Path = u.Path + "/"
			return gemini.NewResponse(gemini.StatusPermanentRedirect, redirected.Path), true
		}

		indexPath := filepath.Join(fullPath, "index.gmi")
		if indexInfo, err := os.Stat(indexPath); err == nil && !indexInfo.IsDir() {
			releasedOnReturn = false
			return s.serveFile(indexPath, indexInfo, release)
		}

		if !e.AllowDirectoryBrowsing {
			return gemini.NewResponse(gemini.StatusNotFound, "Not Found"), true
		}
		return s.serveListing(fullPath, u.Path)
	}

	releasedOnReturn = false
	return s.serveFile(fullPath, info, release)
}

// matchEntry returns the first entry whose host spec accepts u.Host and,
// when it restricts remote ranges, whose ranges contain remote (spec.md
// §4.4: "select the first entry whose host spec matches the URL host").
func (s *Static) matchEntry(u *url.URL, remote net.Addr) *Entry {
	for i := range s.Entries {
		e := &s.Entries[i]
		if !anyHostMatches(e.compiledHosts, u.Host) {
			continue
		}
		if len(e.compiledRanges) > 0 && !remoteInRanges(e.compiledRanges, remote) {
			continue
		}
		return e
	}
	return nil
}

func remoteInRanges(ranges []iprange.Range, remote net.Addr) bool {
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, r := range ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

func thumbprintAllowed(allowed []string, cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	thumb := gemini.Thumbprint(cert)
	for _, want := range allowed {
		if strings.EqualFold(thumb, want) {
			return true
		}
	}
	return false
}

// mapPath joins root with url.path[1:] (spec.md §4.4) and enforces that the
// normalized result equals root or lives strictly below it (§8 Invariant 4).
// The join happens on the raw, uncleaned relative path so a "../" segment is
// caught as an escape rather than silently absorbed at a virtual root.
func mapPath(root, urlPath string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(urlPath, "/"))
	full := filepath.Join(root, rel)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}

	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("statichost: path escapes root")
	}
	return absFull, nil
}

// serveFile opens fullPath and ties release (the file-handle limiter permit
// acquired by Respond) to the returned body's Close, so the permit is held
// for as long as the file stays open rather than just for the open call.
func (s *Static) serveFile(fullPath string, info os.FileInfo, release func()) (*gemini.Response, bool) {
	f, err := os.Open(fullPath)
	if err != nil {
		release()
		return gemini.NewResponse(gemini.StatusNotFound, "Not Found"), true
	}

	mimeType := lookupMimeType(fullPath)
	meta := gemini.NewExtendedMeta(mimeType).
		Set("Size", fmt.Sprintf("%d", info.Size())).
		Set("Filename", filepath.Base(fullPath)).
		Set("LastModified", info.ModTime().UTC().Format("2006-01-02T15:04:05Z")).
		String()

	body := releaseOnClose{ReadCloser: f, release: release}
	return &gemini.Response{Status: gemini.StatusSuccess, Meta: meta, Body: body}, true
}

// releaseOnClose wraps a file body so closing it also returns its
// file-handle limiter permit (spec.md §4.8).
type releaseOnClose struct {
	io.ReadCloser
	release func()
}

func (r releaseOnClose) Close() error {
	defer r.release()
	return r.ReadCloser.Close()
}

// direntry is a sortable directory entry: subdirectories before files,
// alphabetical within each group (spec.md §4.4).
type direntry struct {
	name  string
	isDir bool
}

func (s *Static) serveListing(fullPath, urlPath string) (*gemini.Response, bool) {
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return gemini.NewResponse(gemini.StatusNotFound, "Not Found"), true
	}

	listed := make([]direntry, 0, len(entries))
	for _, e := range entries {
		listed = append(listed, direntry{name: e.Name(), isDir: e.IsDir()})
	}
	sort.Slice(listed, func(i, j int) bool {
		if listed[i].isDir != listed[j].isDir {
			return listed[i].isDir
		}
		return listed[i].name < listed[j].name
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# Index of %s\n", urlPath)

	if urlPath != "/" {
		b.WriteString("=> ../ ../\n")
	}
	for _, e := range listed {
		target := url.PathEscape(e.name)
		label := e.name
		if e.isDir {
			target += "/"
			label += "/"
		}
		fmt.Fprintf(&b, "=> %s %s\n", target, label)
	}

	return &gemini.Response{
		Status: gemini.StatusSuccess,
		Meta:   "text/gemini; charset=utf-8",
		Body:   io.NopCloser(strings.NewReader(b.String())),
	}, true
}
