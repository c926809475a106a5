package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questledger/api/sse"
	"github.com/kasuganosora/questledger/game/quest"
	"github.com/kasuganosora/questledger/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, origins []string) (*httptest.Server, *quest.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	_, ps := testutil.SetupTestCache(t)
	logger := testutil.NopLogger()

	store := quest.NewStore(nil, quest.Config{}, logger)
	store.OnCommit(sse.NewHandler(ps, "progress", logger).Observer())

	router := NewRouter(logger)
	RegisterProgressHandlers(router, store)
	h := NewHandler(ps, "progress", router, origins, logger)

	r := gin.New()
	r.GET("/ws", h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func recv(t *testing.T, conn *websocket.Conn) Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var pkt Packet
	require.NoError(t, json.Unmarshal(data, &pkt), string(data))
	return pkt
}

// recvType reads until a packet of msgType arrives.
func recvType(t *testing.T, conn *websocket.Conn, msgType string) Packet {
	t.Helper()
	for range 10 {
		if pkt := recv(t, conn); pkt.Type == msgType {
			return pkt
		}
	}
	t.Fatalf("no %q packet", msgType)
	return Packet{}
}

func send(t *testing.T, conn *websocket.Conn, seq uint64, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Packet{Seq: seq, Type: msgType, Payload: raw}))
}

func TestServeWS_CommandAndBroadcast(t *testing.T) {
	srv, store := startServer(t, nil)

	actor, err := dial(t, srv, nil)
	require.NoError(t, err)
	watcher, err := dial(t, srv, nil)
	require.NoError(t, err)
	assert.Equal(t, "connected", recv(t, actor).Type)
	assert.Equal(t, "connected", recv(t, watcher).Type)

	send(t, actor, 1, "start_quest", questPayload{QuestID: 21, Title: "Vault"})
	reply := recvType(t, actor, "quest")
	assert.Equal(t, uint64(1), reply.Seq)

	pkt := recvType(t, watcher, "progress")
	var ch quest.Change
	require.NoError(t, json.Unmarshal(pkt.Payload, &ch))
	assert.Equal(t, quest.OpStartQuest, ch.Op)
	assert.Equal(t, 21, ch.QuestID)

	// changes made outside the socket reach it too
	store.FailQuest(21, "")
	require.NoError(t, json.Unmarshal(recvType(t, watcher, "progress").Payload, &ch))
	assert.Equal(t, quest.OpFailQuest, ch.Op)
}

func TestServeWS_Ping(t *testing.T) {
	srv, store := startServer(t, nil)
	store.StartQuest(1, "")

	conn, err := dial(t, srv, nil)
	require.NoError(t, err)
	recvType(t, conn, "connected")

	send(t, conn, 1, "ping", nil)
	pkt := recvType(t, conn, "pong")
	assert.JSONEq(t, `{"revision":1}`, string(pkt.Payload))
}

func TestServeWS_OriginCheck(t *testing.T) {
	srv, _ := startServer(t, []string{"https://pipboy.example"})

	_, err := dial(t, srv, http.Header{"Origin": {"https://evil.example"}})
	assert.Error(t, err)

	conn, err := dial(t, srv, http.Header{"Origin": {"https://pipboy.example"}})
	require.NoError(t, err)
	assert.Equal(t, "connected", recv(t, conn).Type)
}
