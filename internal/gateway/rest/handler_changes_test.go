package rest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxbase/boxbase/internal/events"
)

func dialChanges(t *testing.T, srv *httptest.Server, base string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + base + "/_changes"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleChanges_StreamsEvents(t *testing.T) {
	feed := newFakeFeed()
	mux := http.NewServeMux()
	NewHandler(&MockWriter{}, &MockReader{}, feed, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialChanges(t, srv, "people")
	ch := <-feed.subscribed

	ch <- events.ChangeEvent{Base: "people", Transaction: 3, Revisions: map[string]int64{"a": 2}}
	ch <- events.ChangeEvent{Base: "people", Transaction: 4, Revisions: map[string]int64{"a": 2}, Deleted: []string{"a"}}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt events.ChangeEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, uint64(3), evt.Transaction)
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, uint64(4), evt.Transaction)
	assert.True(t, evt.IsDeleted("a"))

	// Closing the feed channel ends the stream with a going-away frame.
	close(ch)
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case base := <-feed.stopped:
		assert.Equal(t, "people", base)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not removed")
	}
}

func TestHandleChanges_ClientCloseUnsubscribes(t *testing.T) {
	feed := newFakeFeed()
	mux := http.NewServeMux()
	NewHandler(&MockWriter{}, &MockReader{}, feed, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialChanges(t, srv, "people")
	<-feed.subscribed

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case base := <-feed.stopped:
		assert.Equal(t, "people", base)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not removed")
	}
}

func TestHandleChanges_InvalidBase(t *testing.T) {
	feed := newFakeFeed()
	mux := http.NewServeMux()
	NewHandler(&MockWriter{}, &MockReader{}, feed, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_bad/_changes", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSafeCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.com", true},
		{"http://example.com", "example.com", true},
		{"http://example.com:3000", "example.com:8080", true},
		{"http://evil.com", "example.com", false},
		{"://bad", "example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/people/_changes", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, safeCheckOrigin(r), "origin %q host %q", tt.origin, tt.host)
	}
}
