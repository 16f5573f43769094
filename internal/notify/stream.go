package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"tailscale.com/tsweb"
)

// writeTimeout bounds a single WebSocket frame write.
const writeTimeout = 5 * time.Second

// topicsFromRequest reads the repeated ?topic= query parameter.
func topicsFromRequest(r *http.Request) []string {
	var topics []string
	for _, v := range r.URL.Query()["topic"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	return topics
}

// ServeSSE streams messages as Server-Sent Events until the client goes
// away or the hub closes. The event name is the topic.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := h.Subscribe(topicsFromRequest(r)...)
	defer h.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case msg, ok := <-c:
			if !ok {
				return
			}
			if _, err := w.Write(formatSSE(msg)); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func formatSSE(msg Message) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "id: %d\nevent: %s\n", msg.Seq, msg.Topic)
	for _, line := range strings.Split(msg.Payload, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

// ServeWebSocket streams messages as JSON text frames. Anything the client
// sends is ignored.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	id, c := h.Subscribe(topicsFromRequest(r)...)
	defer h.Unsubscribe(id)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case msg, ok := <-c:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "hub closed")
				return
			}
			if err := writeJSON(ctx, conn, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// AttachAdminRoutes adds a live tail of every topic and the hub counters to
// the debug pages served at /debug/.
func (h *Hub) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("tail", h.ServeSSE)
	debug.Handle("hub", "stream hub counters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := h.Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "subscribers: %d\npublished: %d\ndropped: %d\n", s.Subscribers, s.Published, s.Dropped)
	}))
}
