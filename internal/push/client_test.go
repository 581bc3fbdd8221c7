package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	*httptest.Server

	mu     sync.Mutex
	auth   []string
	tokens []string
	joins  []string
}

// newServer starts a websocket server that records the handshake, reads the
// join messages, sends msgs and then, when hangup is set, drops the
// connection.
func newServer(t *testing.T, rooms int, msgs []string, hangup bool) *server {
	t.Helper()
	s := &server{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.mu.Unlock()

		for range rooms {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.joins = append(s.joins, string(msg))
			s.mu.Unlock()
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if hangup {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

type recorder struct {
	mu     sync.Mutex
	msgs   []string
	states []bool
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) handle(msg []byte) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, string(msg))
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	if strings.Contains(string(msg), "bad") {
		return errors.New("bad message")
	}
	return nil
}

func (r *recorder) state(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, connected)
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-r.got:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestClient_DeliversMessagesAndJoinsRooms(t *testing.T) {
	srv := newServer(t, 2, []string{`{"event":"new-post","data":{"id":"1"}}`, `bad`}, false)
	rec := newRecorder()
	client := New(Options{
		URL:   srv.wsURL(),
		Token: "secret",
		Rooms: []string{"user:42", "feed:global"},
	}, rec.handle, rec.state, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- client.Start(ctx) }()

	rec.wait(t, 2)
	assert.True(t, client.Connected())

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}

	assert.False(t, client.Connected())
	rec.mu.Lock()
	assert.Equal(t, []string{`{"event":"new-post","data":{"id":"1"}}`, `bad`}, rec.msgs)
	assert.Equal(t, []bool{true, false}, rec.states)
	rec.mu.Unlock()

	srv.mu.Lock()
	assert.Equal(t, []string{"Bearer secret"}, srv.auth)
	assert.Equal(t, []string{"secret"}, srv.tokens)
	assert.Equal(t, []string{
		`{"event":"join","data":{"room":"user:42"}}`,
		`{"event":"join","data":{"room":"feed:global"}}`,
	}, srv.joins)
	srv.mu.Unlock()

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Connects)
	assert.Equal(t, int64(1), stats.Disconnects)
	assert.Equal(t, int64(2), stats.Messages)
	assert.Equal(t, int64(1), stats.HandlerErrors)
}

func TestClient_Reconnects(t *testing.T) {
	srv := newServer(t, 0, []string{`{"event":"pong"}`}, true)
	rec := newRecorder()
	client := New(Options{URL: srv.wsURL(), ReconnectDelay: 10 * time.Millisecond},
		rec.handle, rec.state, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)

	rec.wait(t, 2)
	assert.GreaterOrEqual(t, client.Stats().Connects, int64(2))
}

func TestClient_SendWithoutConnection(t *testing.T) {
	client := New(Options{URL: "ws://127.0.0.1:1"}, func([]byte) error { return nil }, nil, slog.New(slog.DiscardHandler))

	assert.ErrorIs(t, client.Send(map[string]string{"event": "ping"}), ErrNotConnected)
}

func TestClient_BuildURL(t *testing.T) {
	client := New(Options{URL: "wss://example.com/socket?v=2", Token: "a b"}, nil, nil, slog.New(slog.DiscardHandler))

	u, err := client.buildURL()

	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/socket?token=a+b&v=2", u)
}
