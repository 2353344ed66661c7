// Package ws 用 WebSocket 实现 coordinator.Channel，
// 协同核心本身不感知具体传输方式。
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Channel 包装一条 WebSocket 连接，写操作走带缓冲的发送队列，
// 因此 Send 永远不会被慢客户端阻塞，缓冲满了直接报错丢弃
type Channel struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	onClose   func()

	mu     sync.Mutex
	closed bool
}

func NewChannel(sessionID string, conn *websocket.Conn, bufferSize int, onClose func()) *Channel {
	ch := &Channel{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, bufferSize),
		onClose:   onClose,
	}

	go ch.writePump()
	go ch.readPump()

	return ch
}

func (c *Channel) Send(event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("通道已关闭")
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("发送缓冲区已满")
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)

	return nil
}

// writePump 把发送队列里的事件写到连接上，并定期发 ping 保活
func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只负责消费 pong 和探测断连，客户端不往上行发业务数据
func (c *Channel) readPump() {
	defer func() {
		_ = c.Close()
		if c.onClose != nil {
			c.onClose()
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("读取 WebSocket 消息失败", "sessionID", c.sessionID, "error", err)
			}
			return
		}
	}
}
