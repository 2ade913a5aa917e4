package ws

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a middleman between the websocket connection and the relay.
type Client struct {
	relay *Relay

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed: the write loop
	// exits via doneChan, and once UnregisterAll has run nothing sends here
	// anymore.
	Send chan []byte

	doneChan chan struct{}
}

func NewClient(relay *Relay, conn *websocket.Conn) *Client {
	return &Client{
		relay:    relay,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		doneChan: make(chan struct{}),
	}
}

// send queues a frame for the write loop, dropping it if the buffer is full.
func (c *Client) send(payload []byte) {
	select {
	case c.Send <- payload:
	default:
		atomic.AddUint64(&c.relay.registry.dropped, 1)
		log.Println("info: send buffer full, dropping frame")
	}
}

// ReadLoop pumps messages from the websocket connection to the relay.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.relay.registry.UnregisterAll(c)
		c.conn.Close()
		close(c.doneChan)
	}()
	c.conn.SetReadLimit(c.relay.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("info: ws closed unexpectedly: %s", err)
			}
			return
		}
		c.relay.Handle(c, raw)
	}
}

// WriteLoop pumps messages from the relay to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Println("info: could not write to ws connection, exiting write loop")
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("info: could not send ping message, exiting write loop")
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
