package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	cws "github.com/coder/websocket"

	appLog "evremind/internal/log"
)

// Toast is the message pushed to connected UIs.
type Toast struct {
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

const clientBuffer = 16

// Hub fans toasts out to every connected websocket client. Delivery is
// best-effort: a client whose buffer is full misses the toast.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}

	// OriginPatterns is passed to the websocket handshake.
	OriginPatterns []string
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// Toast implements notify.Toaster.
func (h *Hub) Toast(title, description string) {
	msg, err := json.Marshal(Toast{Type: "toast", Title: title, Description: description, At: time.Now().UTC()})
	if err != nil {
		appLog.Error("toast encode failed", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			appLog.Warn("toast dropped for slow client")
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add() chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) remove(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams toasts until either side
// closes. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, &cws.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		appLog.Warn("websocket accept failed", "error", err.Error())
		return
	}
	defer conn.Close(cws.StatusInternalError, "")

	ch := h.add()
	defer h.remove(ch)
	appLog.Debug("toast client connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(cws.StatusNormalClosure, "")
			return
		case msg := <-ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(wctx, cws.MessageText, msg)
			cancel()
			if err != nil {
				appLog.Debug("toast write failed", "error", err.Error())
				return
			}
		}
	}
}
