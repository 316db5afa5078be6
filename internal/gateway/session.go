package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxFrame   = 1 << 20 // 1MB
)

// Session 表示一条活跃的客户端连接。身份在连接建立前已由外部校验，
// 这里只持有结果。同一时刻最多订阅一个房间。
type Session struct {
	id       string
	userID   string
	username string

	gw   *Gateway
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	roomID string
}

func newSession(gw *Gateway, userID, username string, conn *websocket.Conn) *Session {
	return &Session{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		gw:       gw,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
	}
}

func (s *Session) room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
}

// shutdown 幂等地终止会话：关掉连接让 readPump 退出，统一走那边的清理。
func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// trySend 非阻塞投递。发送缓冲打满说明客户端跟不上，按慢消费者踢掉，
// 不能让一个慢连接拖住整个房间的扇出。
func (s *Session) trySend(b []byte) {
	select {
	case <-s.done:
	case s.send <- b:
	default:
		s.shutdown()
	}
}

func (s *Session) sendError(msg string) {
	s.trySend(mustJSON(errorFrame{Type: frameError, Error: msg}))
}

func (s *Session) readPump() {
	defer func() {
		s.gw.disconnect(s)
		s.shutdown()
	}()
	s.conn.SetReadLimit(maxFrame)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.gw.handleFrame(s, data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
