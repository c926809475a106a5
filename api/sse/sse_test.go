package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questledger/game/quest"
	"github.com/kasuganosora/questledger/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamClient struct {
	events chan string
	cancel context.CancelFunc
}

// connect opens the stream and forwards each "event: ... data: ..." block.
func connect(t *testing.T, srv *httptest.Server) *streamClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := &streamClient{events: make(chan string, 16), cancel: cancel}
	go func() {
		defer resp.Body.Close()
		defer close(sc.events)
		r := bufio.NewReader(resp.Body)
		var block strings.Builder
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\n" {
				sc.events <- block.String()
				block.Reset()
				continue
			}
			block.WriteString(line)
		}
	}()
	t.Cleanup(cancel)
	return sc
}

func (sc *streamClient) next(t *testing.T) string {
	t.Helper()
	select {
	case ev, ok := <-sc.events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func newServer(t *testing.T, h *Handler) *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/stream", h.ServeStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStream_RelaysStoreChanges(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	h := NewHandler(ps, "", testutil.NopLogger())
	srv := newServer(t, h)

	store := quest.NewStore(nil, quest.Config{}, testutil.NopLogger())
	store.OnCommit(h.Observer())

	sc := connect(t, srv)
	assert.Equal(t, "event: connected\ndata: {}\n", sc.next(t))

	store.StartQuest(12, "Wasteland")
	ev := sc.next(t)
	require.True(t, strings.HasPrefix(ev, "event: progress\ndata: "), ev)

	var ch quest.Change
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(ev, "event: progress\ndata: "))), &ch))
	assert.Equal(t, quest.OpStartQuest, ch.Op)
	assert.Equal(t, 12, ch.QuestID)
	assert.Equal(t, uint64(1), ch.Revision)
}

func TestStream_Keepalive(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	h := NewHandler(ps, "progress", testutil.NopLogger())
	h.keepalive = 20 * time.Millisecond
	srv := newServer(t, h)

	sc := connect(t, srv)
	sc.next(t)
	assert.Equal(t, ": keepalive\n", sc.next(t))
}

func TestObserver_OtherChannelIgnored(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	h := NewHandler(ps, "progress", testutil.NopLogger())
	srv := newServer(t, h)

	sc := connect(t, srv)
	sc.next(t)

	require.NoError(t, ps.Publish(context.Background(), "elsewhere", `{"op":"noise"}`))
	h.Observer()(quest.Change{Op: quest.OpResetAll, Revision: 9})

	ev := sc.next(t)
	assert.Contains(t, ev, `"op":"reset_all"`)
	assert.NotContains(t, ev, "noise")
}
