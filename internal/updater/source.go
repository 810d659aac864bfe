package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// ChunkSize is the read size used while streaming an artifact.
const ChunkSize = 32 * 1024

// ErrNoUpdate is returned by Controller.Check when the current build is latest.
var ErrNoUpdate = errors.New("no update available")

// Release describes an available update.
type Release struct {
	Version   string    `json:"version"`
	Notes     string    `json:"notes,omitempty"`
	PubDate   time.Time `json:"pub_date,omitzero"`
	URL       string    `json:"url"`
	SHA256    string    `json:"sha256,omitempty"`
	Signature string    `json:"signature,omitempty"`
}

// Source is a remote update channel.
type Source interface {
	// Check returns the newer release, or nil when current is the latest.
	Check(ctx context.Context, current string) (*Release, error)
	// Download fetches rel into a local file, reporting every chunk, and
	// returns the file path.
	Download(ctx context.Context, rel *Release, onChunk func(n int, total int64)) (string, error)
}

// Manifest is the JSON document served at the update endpoint.
type Manifest struct {
	Version   string              `json:"version"`
	Notes     string              `json:"notes"`
	PubDate   time.Time           `json:"pub_date,omitzero"`
	Platforms map[string]Platform `json:"platforms"`
}

// Platform is one downloadable artifact in a manifest.
type Platform struct {
	URL       string `json:"url"`
	SHA256    string `json:"sha256,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// HTTPSource reads a manifest over HTTP and streams artifacts to disk.
type HTTPSource struct {
	Endpoint string
	// Target selects the platform entry; defaults to "<GOOS>-<GOARCH>".
	Target string
	// Dir receives downloaded artifacts; defaults to os.TempDir().
	Dir    string
	Client *http.Client
}

// NewHTTPSource returns a source for the manifest at endpoint.
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPSource{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// DefaultTarget is the platform key of the running binary.
func DefaultTarget() string { return runtime.GOOS + "-" + runtime.GOARCH }

func (s *HTTPSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

func (s *HTTPSource) target() string {
	if s.Target != "" {
		return s.Target
	}
	return DefaultTarget()
}

func (s *HTTPSource) Check(ctx context.Context, current string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}
	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	newer, err := IsNewer(m.Version, current)
	if err != nil {
		return nil, err
	}
	if !newer {
		return nil, nil
	}
	p, ok := m.Platforms[s.target()]
	if !ok || p.URL == "" {
		return nil, fmt.Errorf("manifest %s has no artifact for %s", m.Version, s.target())
	}
	return &Release{
		Version:   m.Version,
		Notes:     m.Notes,
		PubDate:   m.PubDate,
		URL:       p.URL,
		SHA256:    p.SHA256,
		Signature: p.Signature,
	}, nil
}

func (s *HTTPSource) Download(ctx context.Context, rel *Release, onChunk func(n int, total int64)) (path string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rel.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rel.Version, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", rel.Version, resp.StatusCode)
	}

	f, err := os.CreateTemp(s.Dir, "ff7link-update-*")
	if err != nil {
		return "", err
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	h := sha256.New()
	buf := make([]byte, ChunkSize)
	total := resp.ContentLength
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return "", err
			}
			h.Write(buf[:n])
			if onChunk != nil {
				onChunk(n, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("download %s: %w", rel.Version, rerr)
		}
	}
	if rel.SHA256 != "" {
		sum := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(sum, strings.TrimSpace(rel.SHA256)) {
			return "", fmt.Errorf("artifact checksum mismatch: got %s, want %s", sum, rel.SHA256)
		}
	}
	return f.Name(), nil
}

// IsNewer reports whether remote is a higher semantic version than current.
// A leading "v" is optional on both.
func IsNewer(remote, current string) (bool, error) {
	r, c := canonical(remote), canonical(current)
	if !semver.IsValid(r) {
		return false, fmt.Errorf("invalid remote version %q", remote)
	}
	if !semver.IsValid(c) {
		return false, fmt.Errorf("invalid current version %q", current)
	}
	return semver.Compare(r, c) > 0, nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
