// Package transport connects an engine to a game server over a websocket. Every websocket
// message is one framed binary message: a u32 kind followed by its body.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"pkg.world.dev/world-engine/worldsync/snapshot"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
)

// SessionHeader carries the client session id on the upgrade request.
const SessionHeader = "X-Worldsync-Session"

// Conn is a websocket connection to the server. ReadLoop must run on a single goroutine; Send is
// safe for concurrent use.
type Conn struct {
	ws      *websocket.Conn
	session uuid.UUID
	logger  zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a connection to url and tags it with a fresh session id.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Conn, error) {
	session := uuid.New()
	header := http.Header{}
	header.Set(SessionHeader, session.String())

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to dial %s", url)
	}
	ws.SetReadLimit(maxMessageSize)

	logger = logger.With().Str("component", "worldsync.transport").Str("session", session.String()).Logger()
	logger.Info().Str("url", url).Msg("connected")
	return &Conn{ws: ws, session: session, logger: logger}, nil
}

// Session returns the id sent to the server on connect.
func (c *Conn) Session() uuid.UUID {
	return c.session
}

// ReadLoop hands every binary message to sink until the connection closes, ctx is done or sink
// returns an error. A normal close by the server returns nil.
func (c *Conn) ReadLoop(ctx context.Context, sink func(msg []byte) error) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().Msg("server closed the connection")
				return nil
			}
			return eris.Wrap(err, "failed to read message")
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.BinaryMessage {
			c.logger.Warn().Int("type", msgType).Int("len", len(msg)).Msg("ignoring non-binary message")
			continue
		}
		if err := sink(msg); err != nil {
			return eris.Wrap(err, "failed to handle inbound message")
		}
	}
}

// KeepAlive pings the server until ctx is done or a ping fails.
func (c *Conn) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return eris.Wrap(err, "failed to ping server")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send writes one framed message.
func (c *Conn) Send(kind snapshot.Kind, payload []byte) error {
	msg := snapshot.AppendMessage(kind, payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return eris.Wrapf(err, "failed to send %s message", kind)
	}
	return nil
}

// Close sends a close frame and closes the connection. Later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		if err := c.ws.Close(); err != nil {
			c.closeErr = eris.Wrap(err, "failed to close connection")
		}
		c.logger.Info().Msg("disconnected")
	})
	return c.closeErr
}
