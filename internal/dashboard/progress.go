package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gachasync/logger"
	"gachasync/models"
)

const (
	progressWriteWait  = 10 * time.Second
	progressPingPeriod = 30 * time.Second
	progressClientBuf  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type progressClient struct {
	send chan models.SyncProgress
}

// progressHub fans sync progress events out to websocket subscribers. Slow
// clients lose events instead of stalling the processor.
type progressHub struct {
	mu      sync.Mutex
	clients map[*progressClient]struct{}
	closed  bool
	log     *logger.Log
}

func newProgressHub(log *logger.Log) *progressHub {
	return &progressHub{
		clients: make(map[*progressClient]struct{}),
		log:     log,
	}
}

func (h *progressHub) run(ctx context.Context, src <-chan models.SyncProgress) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-src:
			if !ok {
				return
			}
			h.broadcast(p)
		}
	}
}

func (h *progressHub) broadcast(p models.SyncProgress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- p:
		default:
			h.log.WithComponent("dashboard").WithFields(logger.Fields{
				"sync_id": p.SyncID,
				"stage":   p.Stage,
			}).Debug("progress client lagging, event dropped")
		}
	}
}

func (h *progressHub) subscribe() (*progressClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &progressClient{send: make(chan models.SyncProgress, progressClientBuf)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *progressHub) unsubscribe(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *progressHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *progressHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (s *Server) handleProgress(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	client, ok := s.progress.subscribe()
	if !ok {
		return
	}
	defer s.progress.unsubscribe(client)

	// The read side only exists to notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(progressPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case p, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
