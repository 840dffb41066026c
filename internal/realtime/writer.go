package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Janar2510/AgentFlow/internal/metrics"
)

const (
	pingInterval = 30 * time.Second
	pongDeadline = 60 * time.Second
)

// clientWriter serializes all writes to a single websocket connection.
// The manager enqueues marshaled frames; the run goroutine applies write
// deadlines and keepalive pings. A failed write invokes onWriteError exactly
// once so the manager can evict the connection.
type clientWriter struct {
	connection   *websocket.Conn
	clock        clockwork.Clock
	writeTimeout time.Duration
	sendChannel  chan []byte
	doneChannel  chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	onWriteError func()
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, writeTimeout time.Duration, bufferSize int, onWriteError func()) *clientWriter {
	cw := &clientWriter{
		connection:   connection,
		clock:        clock,
		writeTimeout: writeTimeout,
		sendChannel:  make(chan []byte, bufferSize),
		doneChannel:  make(chan struct{}),
		onWriteError: onWriteError,
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendChannel:
			if !ok {
				return
			}
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.failed()
				return
			}
			metrics.RealtimeMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				cw.failed()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// enqueue offers a frame to the writer without blocking. It reports false when
// the buffer is full or the writer has stopped; the caller treats that as a
// delivery failure.
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

func (cw *clientWriter) failed() {
	if cw.onWriteError != nil {
		cw.onWriteError()
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a websocket close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		// Signal the run goroutine to exit and wait for it, so the close
		// frame below is not a concurrent write.
		close(cw.doneChannel)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(cw.writeTimeout))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}
