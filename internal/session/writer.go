package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	maxMessageSize    = 64 * 1024
	messageBufferSize = 64
)

// clientWriter owns all writes to one connection. Socket deadlines use wall
// time; clock only drives the ping ticker.
type clientWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	onSent      func()
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, onSent func()) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
		onSent:      onSent,
	}
	cw.configureReader()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

// enqueue hands msg to the writer without blocking. False means the buffer is full.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case <-cw.doneChannel:
		return false
	default:
	}

	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = cw.connection.Close()
				return
			}
			if cw.onSent != nil {
				cw.onSent()
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// flush writes whatever is still buffered. Only call after run has exited.
func (cw *clientWriter) flush() {
	for {
		select {
		case msg := <-cw.sendChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful flushes pending messages and sends a close frame with reason.
func (cw *clientWriter) stopGraceful(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		// the run goroutine must be gone before anyone else writes
		cw.wg.Wait()

		cw.flush()
		closeMsg := websocket.FormatCloseMessage(code, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
}

func (cw *clientWriter) configureReader() {
	cw.connection.SetReadLimit(maxMessageSize)
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
}

// updateReadDeadline is also called by the read loop on every client frame.
func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(time.Now().Add(pongDeadline))
}
