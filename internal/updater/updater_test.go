package updater

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ff7link/internal/history"
)

// updateServer serves a manifest at /latest.json and the artifact at /artifact.
type updateServer struct {
	*httptest.Server
	version   string
	artifact  []byte
	sha       string
	breakAt   int // abort the artifact response after this many bytes when > 0
	downloads atomic.Int32
}

func newUpdateServer(t *testing.T, version string, artifact []byte) *updateServer {
	t.Helper()
	us := &updateServer{version: version, artifact: artifact}
	mux := http.NewServeMux()
	mux.HandleFunc("/latest.json", func(w http.ResponseWriter, r *http.Request) {
		m := Manifest{
			Version: us.version,
			Notes:   "bug fixes",
			Platforms: map[string]Platform{
				DefaultTarget(): {URL: us.URL + "/artifact", SHA256: us.sha},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m)
	})
	mux.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		us.downloads.Add(1)
		w.Header().Set("Content-Length", strconv.Itoa(len(us.artifact)))
		if us.breakAt > 0 {
			_, _ = w.Write(us.artifact[:us.breakAt])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		_, _ = w.Write(us.artifact)
	})
	us.Server = httptest.NewServer(mux)
	t.Cleanup(us.Close)
	return us
}

type recorder struct {
	mu       sync.Mutex
	calls    []string
	restarts int
	events   []history.Event
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) Install(_ context.Context, artifact string) error {
	if _, err := os.Stat(artifact); err != nil {
		return err
	}
	r.add("install")
	return nil
}

func (r *recorder) Restart() error {
	r.mu.Lock()
	r.restarts++
	r.mu.Unlock()
	r.add("restart")
	return nil
}

func (r *recorder) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func newController(src Source, rec *recorder, current string) *Controller {
	return New(Config{
		CurrentVersion: current,
		Source:         src,
		Installer:      rec,
		Restarter:      rec,
		History:        rec,
	})
}

func httpSource(t *testing.T, us *updateServer) *HTTPSource {
	src := NewHTTPSource(us.URL+"/latest.json", 0)
	src.Dir = t.TempDir()
	return src
}

func TestSameVersionIsNotAvailable(t *testing.T) {
	us := newUpdateServer(t, "0.3.1", []byte("payload"))
	rec := &recorder{}
	c := newController(httpSource(t, us), rec, "0.3.1")

	s := c.Run(context.Background())

	assert.Equal(t, StateNotAvailable, s.State)
	assert.Zero(t, us.downloads.Load(), "no download request expected")
	assert.Empty(t, rec.calls)
	assert.False(t, s.FinishedAt.IsZero())
}

func TestOlderRemoteIsNotAvailable(t *testing.T) {
	us := newUpdateServer(t, "v0.2.9", []byte("payload"))
	rec := &recorder{}
	s := newController(httpSource(t, us), rec, "0.3.1").Run(context.Background())
	assert.Equal(t, StateNotAvailable, s.State)
	assert.Zero(t, us.downloads.Load())
}

func TestNewerVersionDownloadsInstallsAndRestartsOnce(t *testing.T) {
	artifact := bytes.Repeat([]byte("ff7"), 50_000) // spans several chunks
	us := newUpdateServer(t, "0.4.0", artifact)
	sum := sha256.Sum256(artifact)
	us.sha = hex.EncodeToString(sum[:])
	rec := &recorder{}
	src := httpSource(t, us)
	c := newController(src, rec, "0.3.1")

	c.Start()
	s := c.Wait()

	require.Equal(t, StateInstalled, s.State, s.Err)
	left, err := os.ReadDir(src.Dir)
	require.NoError(t, err)
	assert.Empty(t, left, "artifact should be removed after install")
	assert.Equal(t, "0.4.0", s.RemoteVersion)
	assert.Equal(t, int64(len(artifact)), s.BytesDownloaded)
	assert.Equal(t, int64(len(artifact)), s.ContentLength)
	assert.Equal(t, 1, rec.restarts)
	assert.Equal(t, []string{"install", "restart"}, rec.calls)

	var finished []history.Event
	var path []string
	for _, e := range rec.events {
		if e.Type == history.EventUpdateFinished {
			finished = append(finished, e)
			continue
		}
		path = append(path, e.Record.To)
	}
	assert.Equal(t, []string{"checking", "downloading", "installed"}, path)
	require.Len(t, finished, 1)
	assert.Equal(t, int64(len(artifact)), finished[0].Record.BytesDownloaded)
	assert.Equal(t, s.ID, finished[0].Record.SessionID)
}

func TestDownloadFailingMidStream(t *testing.T) {
	artifact := bytes.Repeat([]byte{0xAB}, 200_000)
	us := newUpdateServer(t, "1.0.0", artifact)
	us.breakAt = 70_000
	rec := &recorder{}
	src := httpSource(t, us)

	s := newController(src, rec, "0.3.1").Run(context.Background())

	assert.Equal(t, StateFailed, s.State)
	assert.NotEmpty(t, s.Err)
	assert.Less(t, s.BytesDownloaded, int64(len(artifact)))
	assert.Empty(t, rec.calls, "no install or restart after a failed download")

	entries, err := os.ReadDir(src.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial artifact must be removed")
}

func TestChecksumMismatchFails(t *testing.T) {
	us := newUpdateServer(t, "0.4.0", []byte("tampered"))
	us.sha = hex.EncodeToString(make([]byte, 32))
	rec := &recorder{}

	s := newController(httpSource(t, us), rec, "0.3.1").Run(context.Background())

	assert.Equal(t, StateFailed, s.State)
	assert.Contains(t, s.Err, "checksum mismatch")
	assert.Empty(t, rec.calls)
}

func TestManifestErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	rec := &recorder{}

	s := newController(NewHTTPSource(srv.URL, 0), rec, "0.3.1").Run(context.Background())

	assert.Equal(t, StateFailed, s.State)
	assert.Contains(t, s.Err, "status 500")
	assert.Empty(t, rec.calls)
}

func TestMissingPlatformFails(t *testing.T) {
	us := newUpdateServer(t, "0.4.0", []byte("x"))
	src := httpSource(t, us)
	src.Target = "plan9-mips"
	s := newController(src, &recorder{}, "0.3.1").Run(context.Background())
	assert.Equal(t, StateFailed, s.State)
	assert.Contains(t, s.Err, "plan9-mips")
}

func TestInstallErrorFails(t *testing.T) {
	us := newUpdateServer(t, "0.4.0", []byte("x"))
	rec := &recorder{}
	src := httpSource(t, us)
	c := New(Config{
		CurrentVersion: "0.3.1",
		Source:         src,
		Installer: InstallerFunc(func(context.Context, string) error {
			return errors.New("permission denied")
		}),
		Restarter: rec,
	})
	s := c.Run(context.Background())
	assert.Equal(t, StateFailed, s.State)
	assert.Contains(t, s.Err, "permission denied")
	assert.Zero(t, rec.restarts)

	left, err := os.ReadDir(src.Dir)
	require.NoError(t, err)
	assert.Empty(t, left, "downloaded artifact should be removed after a failed install")
}

type downSink struct{}

func (downSink) Send(context.Context, history.Event) error { return errors.New("sink down") }

func TestHistoryFailureLoggedOnce(t *testing.T) {
	us := newUpdateServer(t, "0.3.1", []byte("payload"))
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	c := New(Config{
		CurrentVersion: "0.3.1",
		Source:         httpSource(t, us),
		History:        history.NewMulti(log, downSink{}),
		Logger:         log,
	})

	s := c.Run(context.Background())
	require.Equal(t, StateNotAvailable, s.State)
	// checking, not_available and the finish event each fail exactly once
	assert.Equal(t, 3, strings.Count(logs.String(), "sink down"), logs.String())
	assert.Equal(t, 3, strings.Count(logs.String(), "history sink failed"))
}

func TestPanicBecomesFailed(t *testing.T) {
	us := newUpdateServer(t, "0.4.0", []byte("x"))
	rec := &recorder{}
	src := httpSource(t, us)
	c := New(Config{
		CurrentVersion: "0.3.1",
		Source:         src,
		Installer:      InstallerFunc(func(context.Context, string) error { panic("boom") }),
		Restarter:      rec,
	})
	var s Session
	require.NotPanics(t, func() { s = c.Run(context.Background()) })
	assert.Equal(t, StateFailed, s.State)
	assert.Contains(t, s.Err, "boom")
	assert.Zero(t, rec.restarts)
	left, err := os.ReadDir(src.Dir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunsOnlyOnce(t *testing.T) {
	us := newUpdateServer(t, "0.4.0", []byte("abc"))
	rec := &recorder{}
	c := newController(httpSource(t, us), rec, "0.3.1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); c.Run(context.Background()) }()
	}
	wg.Wait()
	c.Run(context.Background())

	assert.Equal(t, int32(1), us.downloads.Load())
	assert.Equal(t, 1, rec.restarts)
}

func TestDisabledStaysIdle(t *testing.T) {
	c := New(Config{CurrentVersion: "0.3.1"})
	assert.False(t, c.Enabled())
	s := c.Run(context.Background())
	assert.Equal(t, StateIdle, s.State)
	_, err := c.Check(context.Background())
	assert.Error(t, err)
}

func TestCheckWithoutRunning(t *testing.T) {
	us := newUpdateServer(t, "0.3.1", []byte("x"))
	c := newController(httpSource(t, us), &recorder{}, "0.3.1")
	_, err := c.Check(context.Background())
	assert.ErrorIs(t, err, ErrNoUpdate)
	assert.Equal(t, StateIdle, c.Session().State)

	us.version = "0.3.2"
	rel, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.3.2", rel.Version)
	assert.Zero(t, us.downloads.Load())
}

func TestIsNewer(t *testing.T) {
	cases := []struct {
		remote, current string
		want            bool
	}{
		{"0.4.0", "0.3.1", true},
		{"v0.3.1", "0.3.1", false},
		{"0.3.1", "v0.4.0", false},
		{"1.0.0", "1.0.0-rc.1", true},
	}
	for _, tc := range cases {
		got, err := IsNewer(tc.remote, tc.current)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s vs %s", tc.remote, tc.current)
	}
	_, err := IsNewer("latest", "0.3.1")
	assert.Error(t, err)
}

func TestStateText(t *testing.T) {
	b, err := json.Marshal(Session{State: StateNotAvailable})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"not_available"`)

	var s Session
	require.NoError(t, json.Unmarshal([]byte(`{"state":"downloading"}`), &s))
	assert.Equal(t, StateDownloading, s.State)
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateDownloading.Terminal())
}

func TestBinaryInstallerReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ff7link")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o755))
	artifact := filepath.Join(dir, "download")
	require.NoError(t, os.WriteFile(artifact, []byte("new"), 0o600))

	require.NoError(t, BinaryInstaller{Target: target}.Install(context.Background(), artifact))

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
	_, err = os.Stat(target + ".new")
	assert.True(t, os.IsNotExist(err), "stage file should be gone")
}

func TestSwapBinaryMovesAside(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ff7link.exe")
	stage := target + ".new"
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o755))
	require.NoError(t, os.WriteFile(stage, []byte("new"), 0o755))

	require.NoError(t, swapBinary(stage, target, true))

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
	b, err = os.ReadFile(target + ".old")
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))
}

func TestSwapBinaryRestoresTargetOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ff7link.exe")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o755))

	// the stage was never written, so the final rename fails
	err := swapBinary(target+".new", target, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace binary")

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))
	_, err = os.Stat(target + ".old")
	assert.True(t, os.IsNotExist(err), "moved-aside binary should be restored")
}

func TestBinaryInstallerMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ff7link")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o755))

	err := BinaryInstaller{Target: target}.Install(context.Background(), filepath.Join(dir, "missing"))
	require.Error(t, err)
	b, _ := os.ReadFile(target)
	assert.Equal(t, "old", string(b))
}
