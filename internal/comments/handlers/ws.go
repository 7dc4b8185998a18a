package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/comment-platform/internal/comments/fanout"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced at the HTTP layer; the socket accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// FeedSocket handles GET /v1/ws/comments: a live stream of every new root
// comment.
func FeedSocket(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveSocket(d, w, r, fanout.GroupFeed)
	}
}

// ThreadSocket handles GET /v1/ws/comments/{comment_id}: replies within
// one thread. Any comment id inside the thread works; the subscription
// lands on the root's group.
func ThreadSocket(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		root, err := d.Store.RootOf(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, d.Log, err)
			return
		}
		serveSocket(d, w, r, fanout.ThreadGroup(root.ID))
	}
}

// serveSocket bridges one fan-out group onto a websocket. Events arriving
// while the socket is open are pushed as text frames; there is no replay
// for anything missed before connecting.
func serveSocket(d Deps, w http.ResponseWriter, r *http.Request, group string) {
	events, cancel, err := d.Transport.Subscribe(group)
	if err != nil {
		d.Log.Error("ws: subscribe failed", zap.String("group", group), zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for payload := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}()

	// Drain the read side to notice the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = conn.Close()
	<-done
}
