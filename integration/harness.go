package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questledger/app"
	"github.com/kasuganosora/questledger/config"
	"github.com/kasuganosora/questledger/game/quest"
	mw "github.com/kasuganosora/questledger/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// AdminKey is the admin key every TestServer is configured with.
const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server around a fully wired App.
type TestServer struct {
	App    *app.App
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/api/progress/ws
}

// NewTestConfig returns a config backed by a SQLite file in a temp dir.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{AdminKey: AdminKey},
		Database: config.DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
		},
		Ledger: config.LedgerConfig{
			Backend:        "db",
			StorageKey:     quest.DefaultStorageKey,
			PersistTimeout: time.Second,
			RetryInterval:  time.Second,
			SnapshotKeep:   5,
			ChangeChannel:  "progress",
		},
		Security: config.SecurityConfig{
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
			MaxImportBytes: 1 << 20,
		},
	}
}

// NewTestServer starts a server for cfg, or NewTestConfig when cfg is nil.
// It mirrors the wiring of the serve command.
func NewTestServer(t *testing.T, cfg *config.Config) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = NewTestConfig(t)
	}
	a, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	a.StartBackground()

	server := httptest.NewServer(a.Router())
	ts := &TestServer{
		App:    a,
		Server: server,
		URL:    server.URL,
		WSURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/api/progress/ws",
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the HTTP server and the App. Safe to call twice.
func (ts *TestServer) Close() {
	if ts.Server == nil {
		return
	}
	ts.Server.Close()
	ts.App.Close()
	ts.Server = nil
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body. admin adds the admin key.
func (ts *TestServer) Do(t *testing.T, method, path string, body any, admin bool) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(mw.AdminKeyHeader, AdminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request.
func (ts *TestServer) Get(t *testing.T, path string, admin bool) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, admin)
}

// PostJSON sends a POST request with a JSON body.
func (ts *TestServer) PostJSON(t *testing.T, path string, body any, admin bool) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, admin)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// ReadBody reads the whole response body.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop keeps reads off SetReadDeadline, which leaves the
// connection unusable after a timeout.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the progress socket and waits for the connected packet.
func (ts *TestServer) ConnectWS(t *testing.T) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	wc.RecvType("connected", 2*time.Second)
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a packet and returns the seq it used.
func (wc *WSClient) Send(msgType string, payload any) uint64 {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	raw, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(map[string]any{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(raw),
	})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
	return seq
}

// RecvType reads packets until one with msgType arrives.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]any {
	wc.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case res := <-wc.readCh:
			require.NoError(wc.t, res.err, "WS recv failed while waiting for %q", msgType)
			var pkt map[string]any
			require.NoError(wc.t, json.Unmarshal(res.data, &pkt))
			if pkt["type"] == msgType {
				return pkt
			}
		case <-deadline:
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
			return nil
		}
	}
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// PayloadMap extracts the payload of a received packet as a map.
func PayloadMap(t *testing.T, pkt map[string]any) map[string]any {
	t.Helper()
	m, ok := pkt["payload"].(map[string]any)
	require.True(t, ok, "payload is not an object: %v", pkt["payload"])
	return m
}
