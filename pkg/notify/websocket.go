package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 32
)

// MessageHandler handles an inbound frame read from a websocket subscriber
type MessageHandler func(sub *WSSubscriber, message []byte)

// WSSubscriber streams status updates to a websocket client.
// Outbound frames go through a bounded queue; when it is full the frame is dropped.
type WSSubscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	mu        sync.RWMutex
	onMessage MessageHandler
	logger    logger.Logger
}

var _ Subscriber = (*WSSubscriber)(nil)

// NewWSSubscriber wraps conn and starts its read and write pumps.
// onMessage may be nil when inbound frames are ignored.
func NewWSSubscriber(conn *websocket.Conn, onMessage MessageHandler, log logger.Logger) *WSSubscriber {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	s := &WSSubscriber{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		onMessage: onMessage,
		logger:    log,
	}
	go s.writePump()
	go s.readPump()
	return s
}

// RemoteAddr returns the client address
func (s *WSSubscriber) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *WSSubscriber) Send(update models.StatusUpdate) error {
	return s.SendJSON(update)
}

// SendJSON queues any JSON-encodable frame
func (s *WSSubscriber) SendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (s *WSSubscriber) Done() <-chan struct{} {
	return s.done
}

// Close stops the pumps. Frames already queued are flushed before the close frame.
func (s *WSSubscriber) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *WSSubscriber) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error("Websocket read error from %s: %v", s.RemoteAddr(), err)
			}
			return
		}
		if s.onMessage != nil {
			s.onMessage(s, message)
		}
	}
}

func (s *WSSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			if err := s.write(websocket.TextMessage, message); err != nil {
				s.logger.Debug("Websocket write to %s failed: %v", s.RemoteAddr(), err)
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.flush()
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued
func (s *WSSubscriber) flush() {
	for {
		select {
		case message := <-s.send:
			if err := s.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *WSSubscriber) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}
