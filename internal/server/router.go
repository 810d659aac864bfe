package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/ff7link/internal/gamedata"
	"github.com/loykin/ff7link/internal/liaison"
	"github.com/loykin/ff7link/internal/updater"
)

// MaxMessageBytes bounds a POST /messages payload.
const MaxMessageBytes = 64 << 10

// Bridge is the command surface served to the UI.
type Bridge interface {
	IsProcessRunning() bool
	UpdateMessageData(data []byte) error
	ReadGameData(ctx context.Context) (gamedata.Snapshot, error)
}

// ProcessInfo exposes details of the attached process.
type ProcessInfo interface {
	Handle() liaison.Handle
	Name() string
}

// UpdateStatus exposes the current update session.
type UpdateStatus interface {
	Session() updater.Session
}

// Deps are the collaborators behind the routes. Bridge is required.
type Deps struct {
	Bridge  Bridge
	Process ProcessInfo
	Updates UpdateStatus
	// Metrics, when set, is served at {basePath}/metrics.
	Metrics http.Handler
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token  string
	Logger *slog.Logger
}

// Router provides the HTTP surface of the command bridge.
// Endpoints:
//
//	GET  {basePath}/health
//	GET  {basePath}/process
//	GET  {basePath}/process/running
//	POST {basePath}/messages   body: {"data":[1,2]} | {"data":"AQI="} | application/octet-stream
//	GET  {basePath}/game
//	GET  {basePath}/update
//	GET  {basePath}/metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	deps     Deps
	basePath string
	log      *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(basePath string, deps Deps) *Router {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{deps: deps, basePath: sanitizeBase(basePath), log: log.With("component", "server")}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	api := group.Group("", r.requireToken())
	api.GET("/process", r.handleProcess)
	api.GET("/process/running", r.handleRunning)
	api.POST("/messages", r.handleMessages)
	api.GET("/game", r.handleGame)
	api.GET("/update", r.handleUpdate)
	if r.deps.Metrics != nil {
		api.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	return g
}

// Listen retry covers the handover after a restart: the previous process
// keeps the port for up to its 5s graceful shutdown, so the window must be longer.
var (
	listenAttempts = 40
	listenBackoff  = 200 * time.Millisecond
)

// NewServer starts a standalone HTTP server on addr using this router. The
// address is bound before NewServer returns so that bind errors surface.
func NewServer(addr, basePath string, deps Deps) (*http.Server, error) {
	r := NewRouter(basePath, deps)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := listen(addr)
	if err != nil {
		return nil, err
	}
	r.log.Info("http server listening", "addr", ln.Addr().String(), "base", r.basePath)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("http server stopped", "error", err)
		}
	}()
	return server, nil
}

func listen(addr string) (net.Listener, error) {
	var err error
	for i := 0; i < listenAttempts; i++ {
		var ln net.Listener
		if ln, err = net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
		if i < listenAttempts-1 {
			time.Sleep(listenBackoff)
		}
	}
	return nil, fmt.Errorf("listen %s: %w", addr, err)
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type runningResp struct {
	Running bool `json:"running"`
}

type processResp struct {
	Running bool      `json:"running"`
	Name    string    `json:"name"`
	PID     int32     `json:"pid,omitempty"`
	Exe     string    `json:"exe,omitempty"`
	Since   time.Time `json:"since,omitzero"`
}

type messagesReq struct {
	Data json.RawMessage `json:"data"`
}

func (r *Router) requireToken() gin.HandlerFunc {
	want := []byte(r.deps.Token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRunning(c *gin.Context) {
	writeJSON(c, http.StatusOK, runningResp{Running: r.deps.Bridge.IsProcessRunning()})
}

func (r *Router) handleProcess(c *gin.Context) {
	resp := processResp{Running: r.deps.Bridge.IsProcessRunning()}
	if p := r.deps.Process; p != nil {
		resp.Name = p.Name()
		if h := p.Handle(); h.Attached {
			resp.PID, resp.Exe, resp.Since = h.PID, h.Exe, h.Since
			if h.Name != "" {
				resp.Name = h.Name
			}
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleMessages(c *gin.Context) {
	data, err := readMessageBody(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := r.deps.Bridge.UpdateMessageData(data); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGame(c *gin.Context) {
	snap, err := r.deps.Bridge.ReadGameData(c.Request.Context())
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleUpdate(c *gin.Context) {
	if r.deps.Updates == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "updater not configured"})
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Updates.Session())
}

// readMessageBody accepts raw bytes (application/octet-stream) or JSON whose
// data field is an array of byte values or a base64 string.
func readMessageBody(c *gin.Context) ([]byte, error) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, MaxMessageBytes*4+64)
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if strings.HasPrefix(c.ContentType(), "application/octet-stream") {
		if len(raw) > MaxMessageBytes {
			return nil, fmt.Errorf("message data exceeds %d bytes", MaxMessageBytes)
		}
		return raw, nil
	}
	var req messagesReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return decodeData(req.Data)
}

func decodeData(raw json.RawMessage) ([]byte, error) {
	s := strings.TrimSpace(string(raw))
	var out []byte
	switch {
	case s == "" || s == "null":
		return nil, errors.New("data is required")
	case strings.HasPrefix(s, "["):
		var vals []int
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
		out = make([]byte, len(vals))
		for i, v := range vals {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("invalid data: value %d at index %d is not a byte", v, i)
			}
			out[i] = byte(v)
		}
	case strings.HasPrefix(s, `"`):
		var enc string
		if err := json.Unmarshal(raw, &enc); err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
		out = b
	default:
		return nil, errors.New("invalid data: expected byte array or base64 string")
	}
	if len(out) > MaxMessageBytes {
		return nil, fmt.Errorf("message data exceeds %d bytes", MaxMessageBytes)
	}
	return out, nil
}

// statusFor maps bridge errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, liaison.ErrNotAttached):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
