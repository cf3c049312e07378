package websockets

import (
	"context"
	"sync"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types
const (
	MsgTypeResultsUpdate = "results_update"
)

// Client is one live-results subscriber. It only ever receives updates for
// the poll it connected to.
type Client struct {
	Conn   *websocket.Conn
	PollID uuid.UUID
	send   chan []byte
}

// ResultsLoader reads the current results of one poll.
type ResultsLoader func(ctx context.Context, pollID uuid.UUID) (model.PollResults, error)

type WebSocketManager struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	broadcast  chan pollMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger

	loader    ResultsLoader
	pendingMu sync.Mutex
	pending   map[uuid.UUID]struct{}
	wake      chan struct{}
}

// Message is the envelope written to subscribers.
type Message struct {
	Type   string      `json:"type"`
	PollID uuid.UUID   `json:"poll_id"`
	Data   interface{} `json:"data,omitempty"`
}

type pollMessage struct {
	pollID  uuid.UUID
	payload []byte
}
