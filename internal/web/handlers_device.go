package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const deviceReadLimit = 64 << 10

var errLinkClosed = errors.New("link closed")

// Controllers are not browsers; the token guards this path instead of the
// Origin header.
var deviceUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// deviceLink is one controller connected over the raw WebSocket. It
// receives every broadcast event as a {"type", "payload"} frame.
type deviceLink struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// Deliver implements core.Subscriber.
func (l *deviceLink) Deliver(e core.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return l.enqueue(data)
}

func (l *deviceLink) enqueue(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLinkClosed
	}
	select {
	case l.send <- data:
		return nil
	default:
		return errSlowSubscriber
	}
}

func (l *deviceLink) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.send)
	}
}

// handleDeviceWS upgrades a controller connection. While it is open the
// controller counts as attached, so forwarded commands are pushed to it
// instead of being queued for polling.
func (s *Server) handleDeviceWS(w http.ResponseWriter, r *http.Request) {
	conn, err := deviceUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("device websocket upgrade failed", "err", err)
		return
	}

	link := &deviceLink{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.logger.Info("device connected", "id", link.id, "remote", r.RemoteAddr)

	unsub := s.hub.Events().Subscribe(link)
	detach := s.hub.AttachController("websocket")

	// Controllers load their switch table from the catalog on connect.
	if ev, err := s.hub.CatalogEvent(); err == nil {
		if err := link.Deliver(ev); err != nil {
			s.logger.Warn("device catalog send", "id", link.id, "err", err)
		}
	} else {
		s.logger.Error("device catalog", "err", err)
	}

	go s.deviceWritePump(link)
	s.deviceReadPump(link)

	unsub()
	link.close()
	detach()
	s.logger.Info("device disconnected", "id", link.id)
}

func (s *Server) deviceReadPump(link *deviceLink) {
	defer link.conn.Close()

	link.conn.SetReadLimit(deviceReadLimit)
	wait := s.pingInterval + s.pongTimeout
	link.conn.SetReadDeadline(time.Now().Add(wait))
	link.conn.SetPongHandler(func(string) error {
		return link.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, msg, err := link.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("device websocket read error", "id", link.id, "err", err)
			} else {
				s.logger.Debug("device websocket closed", "id", link.id, "err", err)
			}
			return
		}
		// Any frame counts as liveness.
		link.conn.SetReadDeadline(time.Now().Add(wait))

		reply, err := s.dispatcher.HandleFrame(msg)
		if err != nil {
			s.logger.Warn("device frame rejected", "id", link.id, "code", core.CodeOf(err), "err", err)
			reply = &core.Event{Type: "error", Payload: map[string]core.Code{"error": core.CodeOf(err)}}
		}
		if reply != nil {
			if err := link.Deliver(*reply); err != nil {
				s.logger.Warn("device reply dropped", "id", link.id, "err", err)
			}
		}
	}
}

func (s *Server) deviceWritePump(link *deviceLink) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		link.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-link.send:
			if !ok {
				link.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			link.conn.SetWriteDeadline(time.Now().Add(s.pongTimeout))
			if err := link.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			link.conn.SetWriteDeadline(time.Now().Add(s.pongTimeout))
			if err := link.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			link.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return
		}
	}
}
