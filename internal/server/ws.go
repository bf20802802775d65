package server

import (
	"encoding/json"
	"log"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridwell/internal/collab"
	"gridwell/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the wire frame. Exactly one payload field is set per event type.
type wsEvent struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	UserID    string               `json:"user_id,omitempty"`
	Change    *domain.GridChange   `json:"change,omitempty"`
	Position  *domain.CellPosition `json:"position,omitempty"`
	Range     *domain.CellRange    `json:"range,omitempty"`
	Users     []domain.ActiveUser  `json:"users,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// wsClient is one websocket participant. It satisfies the collaboration
// engine's subscriber contract; deliveries are dropped when the client's send
// buffer is full rather than blocking the broadcaster.
type wsClient struct {
	conn   *websocket.Conn
	collab *collab.Engine

	mu        sync.Mutex
	sessionID string
	userID    string
	send      chan wsEvent
	closed    bool
}

// identity returns the joined session and user. Reads race with the read
// pump's join handling otherwise, so everything outside that goroutine goes
// through here.
func (c *wsClient) identity() (sessionID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.userID
}

func (c *wsClient) setIdentity(sessionID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.userID = userID
}

// post queues an event for the write pump. It never blocks: a full buffer
// drops the event, a closed client swallows it.
func (c *wsClient) post(evt wsEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsClient) Deliver(change domain.GridChange) {
	ch := change
	if !c.post(wsEvent{Type: "grid-change", SessionID: change.SessionID, Change: &ch}) {
		_, userID := c.identity()
		log.Printf("ws: dropping change %s for client %s", change.ID, userID)
	}
}

func registerWebsocket(r chi.Router, basePath string, c *collab.Engine) {
	r.Get(path.Join(basePath, "collab/ws"), func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Printf("ws: upgrade failed: %v", err)
			return
		}
		client := &wsClient{
			conn:   conn,
			send:   make(chan wsEvent, wsSendBuffer),
			collab: c,
		}
		go client.writePump()
		client.readPump()
	})
}

func (c *wsClient) writePump() {
	for evt := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(evt); err != nil {
			_, userID := c.identity()
			log.Printf("ws: write to %s failed: %v", userID, err)
			return
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		if sessionID, userID := c.identity(); sessionID != "" && userID != "" {
			c.collab.LeaveSession(sessionID, userID)
		}
		c.shutdown()
		c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				_, userID := c.identity()
				log.Printf("ws: client %s disconnected: %v", userID, err)
			}
			return
		}
		var evt wsEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.sendError("malformed event")
			continue
		}
		c.handle(evt)
	}
}

func (c *wsClient) handle(evt wsEvent) {
	sessionID, userID := c.identity()
	switch evt.Type {
	case "join-session":
		if evt.SessionID == "" || evt.UserID == "" {
			c.sendError("join-session needs session_id and user_id")
			return
		}
		// A connection participates in one session at a time.
		if sessionID != "" && sessionID != evt.SessionID {
			c.collab.LeaveSession(sessionID, userID)
		}
		users, err := c.collab.JoinSession(evt.SessionID, evt.UserID, c)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.setIdentity(evt.SessionID, evt.UserID)
		c.post(wsEvent{Type: "active-users", SessionID: evt.SessionID, Users: users})
	case "leave-session":
		if sessionID == "" {
			return
		}
		c.collab.LeaveSession(sessionID, userID)
		c.setIdentity("", "")
	case "grid-change":
		if sessionID == "" || evt.Change == nil {
			c.sendError("grid-change needs a joined session and a change")
			return
		}
		change := *evt.Change
		if change.ID == "" {
			change.ID = uuid.NewString()
		}
		change.UserID = userID
		c.collab.BroadcastChange(sessionID, change)
	case "cursor-move":
		if sessionID == "" || evt.Position == nil {
			return
		}
		c.collab.UpdateCursor(sessionID, userID, *evt.Position)
	case "selection-change":
		if sessionID == "" || evt.Range == nil {
			return
		}
		c.collab.UpdateSelection(sessionID, userID, *evt.Range)
	default:
		c.sendError("unknown event type " + evt.Type)
	}
}

func (c *wsClient) sendError(msg string) {
	c.post(wsEvent{Type: "error", Message: msg})
}
