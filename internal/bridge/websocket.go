package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/vaani/internal/protocol"
)

const wsWriteTimeout = 5 * time.Second

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	msgs    chan []byte
	errs    chan error
	once    sync.Once
}

// NewWebSocketTransport wraps an established connection. Either side of the
// bridge can use it.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	ws := &wsTransport{
		conn: conn,
		msgs: make(chan []byte, 256),
		errs: make(chan error, 1),
	}
	go func() {
		defer close(ws.msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				ws.errs <- err
				return
			}
			ws.msgs <- data
		}
	}()
	return ws
}

// DialWebSocket returns a Dialer for an out-of-process worker host.
func DialWebSocket(url string, handshakeTimeout time.Duration) Dialer {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context) (Transport, error) {
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("worker dial failed (%s): %w", resp.Status, err)
			}
			return nil, fmt.Errorf("worker dial failed: %w", err)
		}
		return NewWebSocketTransport(conn), nil
	}
}

func (ws *wsTransport) Send(ctx context.Context, msg protocol.WorkerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.conn.SetWriteDeadline(deadline)
	defer ws.conn.SetWriteDeadline(time.Time{})
	return ws.conn.WriteJSON(msg)
}

func (ws *wsTransport) Receive(ctx context.Context) (protocol.WorkerMessage, error) {
	for {
		data, err := ws.next(ctx)
		if err != nil {
			return protocol.WorkerMessage{}, err
		}
		msg, err := protocol.ParseWorkerMessage(data)
		if errors.Is(err, protocol.ErrUnsupportedType) {
			// Unknown frame types are skipped so both sides can evolve.
			continue
		}
		return msg, err
	}
}

func (ws *wsTransport) next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-ws.msgs:
		if !ok {
			select {
			case err := <-ws.errs:
				if err != nil {
					return nil, err
				}
			default:
			}
			return nil, ErrTransportClosed
		}
		return data, nil
	}
}

func (ws *wsTransport) Close() error {
	var err error
	ws.once.Do(func() {
		ws.writeMu.Lock()
		_ = ws.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
	})
	return err
}
