package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "realtime-secret"

type fakeReads struct {
	mu    sync.Mutex
	calls [][2]int64
	err   error
}

func (f *fakeReads) MarkRead(_ context.Context, conversationID, actorID int64) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]int64{conversationID, actorID})
	if f.err != nil {
		return nil, f.err
	}
	return &store.Conversation{ID: conversationID, Read: true}, nil
}

func (f *fakeReads) Calls() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int64(nil), f.calls...)
}

type fixture struct {
	gw    *Gateway
	bus   *bus.Bus
	reads *fakeReads
	srv   *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	b := bus.New()
	reads := &fakeReads{}
	gw := NewGateway(b, reads, opts, metrics.New(), nil)

	e := echo.New()
	e.GET("/ws", gw.Handle, auth.JWTMiddleware(testSecret, nil))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &fixture{gw: gw, bus: b, reads: reads, srv: srv}
}

func (f *fixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, _, err := auth.GenerateToken(auth.Principal{UserID: userID}, testSecret, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, conversationID int64) {
	t.Helper()
	data, _ := json.Marshal(conversationRef{ConversationID: conversationID})
	require.NoError(t, ws.WriteJSON(Frame{Event: event, Data: data}))
}

func recv(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func assertSilent(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var f Frame
	err := ws.ReadJSON(&f)
	assert.Error(t, err, "unexpected frame %q", f.Event)
}

func join(t *testing.T, ws *websocket.Conn, conversationID int64) {
	t.Helper()
	send(t, ws, EventJoin, conversationID)
	assert.Equal(t, EventJoined, recv(t, ws).Event)
}

func TestHandleRejectsUnauthenticated(t *testing.T) {
	f := newFixture(t, Options{})
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoomDelivery(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.dial(t, 1)
	bob := f.dial(t, 2)
	join(t, alice, 5)
	join(t, bob, 6)

	f.gw.dispatch(bus.Event{Kind: bus.KindNewMessage, ConversationID: 5, Payload: map[string]any{"id": 99}})

	got := recv(t, alice)
	assert.Equal(t, "new-message", got.Event)
	assert.JSONEq(t, `{"id":99}`, string(got.Data))
	assertSilent(t, bob)

	send(t, alice, EventLeave, 5)
	assert.Equal(t, EventLeft, recv(t, alice).Event)
	f.gw.dispatch(bus.Event{Kind: bus.KindMessageStatus, ConversationID: 5, Payload: bus.StatusChange{ConversationID: 5}})
	assertSilent(t, alice)
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.dial(t, 1)
	bob := f.dial(t, 2)
	join(t, alice, 1)
	join(t, bob, 2)

	f.gw.dispatch(bus.Event{Kind: bus.KindConversationAssign, ConversationID: 3, Payload: bus.Assignment{ConversationID: 3}})
	assert.Equal(t, "conversation-assigned", recv(t, alice).Event)
	assert.Equal(t, "conversation-assigned", recv(t, bob).Event)
}

func TestReadEventsReachUserAndRoomOnce(t *testing.T) {
	f := newFixture(t, Options{})
	reader := f.dial(t, 1)
	watcher := f.dial(t, 2)
	other := f.dial(t, 3)
	join(t, reader, 8)
	join(t, watcher, 8)
	join(t, other, 9)

	f.gw.dispatch(bus.Event{
		Kind:           bus.KindConversationRead,
		ConversationID: 8,
		UserID:         1,
		Payload:        bus.UnreadChange{ConversationID: 8, Read: true, UserID: 1},
	})

	assert.Equal(t, "conversation-read", recv(t, reader).Event)
	assertSilent(t, reader)
	assert.Equal(t, "conversation-read", recv(t, watcher).Event)
	assertSilent(t, other)
}

func TestMarkReadFrame(t *testing.T) {
	f := newFixture(t, Options{})
	ws := f.dial(t, 4)
	send(t, ws, EventMarkRead, 12)
	require.Eventually(t, func() bool { return len(f.reads.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, [2]int64{12, 4}, f.reads.Calls()[0])

	send(t, ws, EventJoin, 0)
	assert.Equal(t, EventError, recv(t, ws).Event)
}

func TestRateLimitClosesConnection(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 2, RateWindow: time.Minute})
	ws := f.dial(t, 1)

	join(t, ws, 1)
	join(t, ws, 2)
	send(t, ws, EventJoin, 3)

	got := recv(t, ws)
	assert.Equal(t, EventError, got.Event)
	assert.Contains(t, string(got.Data), "rate limit")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return f.gw.Registry().Users() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.gw.Rooms().Len())
}

func TestRunFansOutBusEvents(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.gw.Run(ctx)
		close(done)
	}()

	ws := f.dial(t, 1)
	join(t, ws, 1)

	// Run subscribes asynchronously; publish until the first frame lands.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	frames := make(chan Frame, 8)
	go func() {
		for {
			var fr Frame
			if err := ws.ReadJSON(&fr); err != nil {
				close(frames)
				return
			}
			frames <- fr
		}
	}()
	var got Frame
	require.Eventually(t, func() bool {
		f.bus.Publish(bus.Event{Kind: bus.KindNewConversation, Payload: map[string]int{"id": 1}})
		select {
		case got = <-frames:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "new-conversation", got.Event)

	cancel()
	<-done
}
