package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"friendsync/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler receives change-feed events for one relation.
type Handler func(models.ChangeEvent)

// Subscriber maintains a websocket connection to the backend's change feed
// and fans incoming events out to per-relation handlers. It reconnects with
// a fixed backoff until Close is called. Handlers run on the read goroutine
// and should only schedule work (a Debouncer trigger), never block.
type Subscriber struct {
	wsURL   string
	token   string
	backoff time.Duration
	id      string

	mu       sync.Mutex
	handlers map[string][]Handler
	conn     *websocket.Conn
	closed   bool
	done     chan struct{}
}

// NewSubscriber creates a subscriber for the given feed endpoint. The token
// is passed as a query parameter, matching the backend's websocket auth.
func NewSubscriber(wsURL, token string, backoff time.Duration) *Subscriber {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Subscriber{
		wsURL:    wsURL,
		token:    token,
		backoff:  backoff,
		id:       uuid.New().String(),
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// OnChange registers a handler for events on the given relation tag
// (models.TableFriendRequests or models.TableFriendships). Must be called
// before Start.
func (s *Subscriber) OnChange(table string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[table] = append(s.handlers[table], h)
}

// Start launches the connect/read loop in a goroutine.
func (s *Subscriber) Start() {
	go s.run()
}

func (s *Subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			log.Error().
				Err(err).
				Str("subscriber_id", s.id).
				Msg("Change feed connection lost")
		}

		select {
		case <-s.done:
			return
		case <-time.After(s.backoff):
		}
	}
}

func (s *Subscriber) connectAndRead() error {
	url := s.wsURL + "?token=" + s.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	log.Debug().Str("subscriber_id", s.id).Msg("Change feed connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}

		var event models.ChangeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Error().Err(err).Msg("Failed to parse change feed event")
			continue
		}
		s.dispatch(event)
	}
}

func (s *Subscriber) dispatch(event models.ChangeEvent) {
	s.mu.Lock()
	handlers := s.handlers[event.Table]
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	for _, h := range handlers {
		h(event)
	}
}

// Close tears down the connection and stops the reconnect loop. Events
// already in flight are dropped, not delivered.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		conn.Close()
	}
}
