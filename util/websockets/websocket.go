package websockets

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
	loadWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewWebSocketManager initializes a WebSocketManager. loader supplies the
// snapshots pushed by RefreshPollResults. Call Run before serving connections.
func NewWebSocketManager(loader ResultsLoader, logger *zap.Logger) *WebSocketManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketManager{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		broadcast:  make(chan pollMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		loader:     loader,
		pending:    make(map[uuid.UUID]struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// Run owns the subscriber set until ctx is done, then disconnects everyone.
func (manager *WebSocketManager) Run(ctx context.Context) {
	defer close(manager.done)
	go manager.refreshLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			manager.mu.Lock()
			for _, set := range manager.clients {
				for client := range set {
					manager.remove(client)
				}
			}
			manager.mu.Unlock()
			return

		case client := <-manager.register:
			manager.mu.Lock()
			if manager.clients[client.PollID] == nil {
				manager.clients[client.PollID] = make(map[*Client]struct{})
			}
			manager.clients[client.PollID][client] = struct{}{}
			manager.mu.Unlock()

		case client := <-manager.unregister:
			manager.mu.Lock()
			manager.remove(client)
			manager.mu.Unlock()

		case msg := <-manager.broadcast:
			manager.mu.Lock()
			for client := range manager.clients[msg.pollID] {
				select {
				case client.send <- msg.payload:
				default:
					manager.logger.Warn("dropping slow live-results subscriber", zap.Stringer("poll_id", msg.pollID))
					manager.remove(client)
				}
			}
			manager.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (manager *WebSocketManager) remove(client *Client) {
	set, ok := manager.clients[client.PollID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(manager.clients, client.PollID)
	}
}

// Subscribers reports how many clients are watching pollID.
func (manager *WebSocketManager) Subscribers(pollID uuid.UUID) int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients[pollID])
}

// RefreshPollResults asks for a fresh snapshot of pollID to be sent to its
// subscribers. It never blocks. Requests for the same poll that arrive before
// the refresh runs collapse into one, and snapshots are loaded and sent one at
// a time, so subscribers never see an older tally after a newer one.
func (manager *WebSocketManager) RefreshPollResults(pollID uuid.UUID) {
	if manager == nil || manager.Subscribers(pollID) == 0 {
		return
	}
	manager.pendingMu.Lock()
	manager.pending[pollID] = struct{}{}
	manager.pendingMu.Unlock()

	select {
	case manager.wake <- struct{}{}:
	default:
	}
}

func (manager *WebSocketManager) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-manager.wake:
		}

		manager.pendingMu.Lock()
		polls := manager.pending
		manager.pending = make(map[uuid.UUID]struct{})
		manager.pendingMu.Unlock()

		for pollID := range polls {
			if err := manager.refresh(ctx, pollID); err != nil {
				if ctx.Err() != nil {
					return
				}
				manager.logger.Warn("live results refresh failed", zap.Stringer("poll_id", pollID), zap.Error(err))
			}
		}
	}
}

func (manager *WebSocketManager) refresh(ctx context.Context, pollID uuid.UUID) error {
	loadCtx, cancel := context.WithTimeout(ctx, loadWait)
	defer cancel()

	results, err := manager.loader(loadCtx, pollID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Message{Type: MsgTypeResultsUpdate, PollID: pollID, Data: results})
	if err != nil {
		return err
	}

	select {
	case manager.broadcast <- pollMessage{pollID: pollID, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleConnections upgrades the request, sends initial as the first
// results_update and then streams updates for pollID until the client leaves.
func (manager *WebSocketManager) HandleConnections(w http.ResponseWriter, r *http.Request, pollID uuid.UUID, initial model.PollResults) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		manager.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{Conn: conn, PollID: pollID, send: make(chan []byte, sendBuffer)}
	if first, err := json.Marshal(Message{Type: MsgTypeResultsUpdate, PollID: pollID, Data: initial}); err == nil {
		client.send <- first
	}

	select {
	case manager.register <- client:
	case <-manager.done:
		conn.Close()
		return
	}

	go manager.writePump(client)
	manager.readPump(client)
}

// readPump discards anything the client sends; it exists to notice
// disconnects and answer pings.
func (manager *WebSocketManager) readPump(client *Client) {
	defer func() {
		select {
		case manager.unregister <- client:
		case <-manager.done:
		}
	}()

	client.Conn.SetReadLimit(512)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				manager.logger.Debug("live-results client read error", zap.Error(err))
			}
			return
		}
	}
}

func (manager *WebSocketManager) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
