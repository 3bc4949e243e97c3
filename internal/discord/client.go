// Package discord provides a client for Discord's local IPC socket,
// enabling Rich Presence updates via the SET_ACTIVITY command.
//
// The [Client] type manages connection lifecycle and command framing.
// Connecting only writes the handshake; Discord's answer, later errors, and
// the end of the connection are read by a background goroutine and reported
// through the [Handler] callbacks. Platform-specific socket discovery is
// handled by conn_unix.go and conn_windows.go.
package discord

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrNotConnected is returned when an operation requires an active connection.
var ErrNotConnected = errors.New("not connected")

// ///////////////////////////////////////////////
// Data Types
// ///////////////////////////////////////////////

// Timestamps holds the start timestamp for an activity.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
}

// Assets holds image keys and tooltip text for an activity.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Activity represents a Discord Rich Presence activity.
type Activity struct {
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
}

// Handler receives connection events. Callbacks run on the client's reader
// goroutine and must not block; nil callbacks are skipped.
type Handler struct {
	// OnConnect is called when Discord accepts the handshake.
	OnConnect func()
	// OnDisconnect is called once when an established or pending
	// connection ends, including after [Client.Disconnect].
	OnDisconnect func(code int, message string)
	// OnError is called for error events Discord sends on a live connection.
	OnError func(code int, message string)
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client manages a connection to Discord's IPC socket.
type Client struct {
	// appID is the Discord application (OAuth2 client) identifier.
	appID   string
	handler Handler
	// dial opens the IPC socket; tests replace it with a pipe.
	dial func() (net.Conn, error)

	// mu protects every field below.
	mu sync.Mutex
	// conn is the active IPC socket connection, or nil when disconnected.
	conn net.Conn
	// gen identifies the current connection. A reader whose generation is
	// stale stays silent so a replaced connection never reports events.
	gen uint64
	// ready is set once Discord has answered the handshake.
	ready bool
	// last is the encoded activity most recently sent on conn.
	last []byte
}

// NewClient creates a new Discord IPC client for the given application ID.
func NewClient(appID string, h Handler) *Client {
	return &Client{appID: appID, handler: h, dial: connectToDiscord}
}

// Connect opens the IPC socket, writes the handshake and starts the reader.
// It reports whether the handshake was sent; acceptance is signalled later
// through [Handler.OnConnect]. An existing connection is replaced silently.
func (c *Client) Connect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()

	conn, err := c.dial()
	if err != nil {
		slog.Debug("discord IPC unavailable", "error", err)
		return false
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		slog.Debug("discord handshake failed", "error", err)
		c.dropLocked()
		return false
	}

	go c.readLoop(conn, c.gen)
	return true
}

// Disconnect clears the activity and closes the connection. The reader then
// reports the closure through [Handler.OnDisconnect].
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	_ = c.clearLocked()
	c.conn.Close()
}

// Close clears the activity and closes the connection without raising any
// further callbacks. It is used on shutdown.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.clearLocked()
	err := c.conn.Close()
	c.conn = nil
	c.ready = false
	c.gen++
	return err
}

// Connected reports whether Discord has accepted the current connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.ready
}

// SetActivity sends a SET_ACTIVITY command to Discord. An activity identical
// to the previous one sent on the same connection is skipped.
func (c *Client) SetActivity(activity *Activity) error {
	encoded, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshaling activity: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if c.last != nil && bytes.Equal(c.last, encoded) {
		return nil
	}
	if err := c.sendCommand("SET_ACTIVITY", map[string]any{
		"pid":      os.Getpid(),
		"activity": json.RawMessage(encoded),
	}); err != nil {
		return err
	}
	c.last = encoded
	return nil
}

// ClearActivity sends a SET_ACTIVITY command with a nil activity.
func (c *Client) ClearActivity() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearLocked()
}

// clearLocked sends an empty activity. The caller must hold c.mu.
func (c *Client) clearLocked() error {
	c.last = nil
	return c.sendCommand("SET_ACTIVITY", map[string]any{
		"pid":      os.Getpid(),
		"activity": nil,
	})
}

// dropLocked closes the current connection and retires its reader.
// The caller must hold c.mu.
func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.ready = false
	c.last = nil
	c.gen++
}

// handshake writes the initial handshake frame. The caller must hold c.mu.
func (c *Client) handshake() error {
	payload, err := json.Marshal(map[string]any{
		"v":         1,
		"client_id": c.appID,
	})
	if err != nil {
		return fmt.Errorf("marshaling handshake: %w", err)
	}

	frame, err := EncodeFrame(OpHandshake, payload)
	if err != nil {
		return fmt.Errorf("encoding handshake: %w", err)
	}
	if _, err = c.conn.Write(frame); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}
	return nil
}

// sendCommand writes a command frame to the IPC connection.
// The caller must hold c.mu.
func (c *Client) sendCommand(cmd string, args map[string]any) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(map[string]any{
		"cmd":   cmd,
		"args":  args,
		"nonce": uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}

	frame, err := EncodeFrame(OpFrame, payload)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	if _, err = c.conn.Write(frame); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Reader
// ///////////////////////////////////////////////

// message is the subset of an incoming IPC payload the reader inspects.
// Close frames carry code and message at the top level, dispatch frames
// carry them under data.
type message struct {
	Cmd     string `json:"cmd"`
	Evt     string `json:"evt"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// readLoop consumes frames from conn until it fails or is closed, raising
// callbacks while gen is still the current connection.
func (c *Client) readLoop(conn net.Conn, gen uint64) {
	for {
		op, payload, err := DecodeFrame(conn)
		if err != nil {
			c.finish(gen, 0, err.Error())
			return
		}

		var m message
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &m); err != nil {
				slog.Debug("discord sent malformed payload", "opcode", op, "error", err)
				continue
			}
		}

		switch op {
		case OpPing:
			c.pong(gen, payload)
		case OpClose:
			conn.Close()
			c.finish(gen, m.Code, m.Message)
			return
		case OpFrame:
			c.dispatch(gen, m)
		}
	}
}

// dispatch handles a data frame on connection gen.
func (c *Client) dispatch(gen uint64, m message) {
	switch m.Evt {
	case "READY":
		c.mu.Lock()
		current := gen == c.gen
		if current {
			c.ready = true
		}
		c.mu.Unlock()
		if current && c.handler.OnConnect != nil {
			c.handler.OnConnect()
		}
	case "ERROR":
		if c.current(gen) && c.handler.OnError != nil {
			c.handler.OnError(m.Data.Code, m.Data.Message)
		}
	}
}

// pong answers a ping on connection gen with the same payload.
func (c *Client) pong(gen uint64, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.conn == nil {
		return
	}
	frame, err := EncodeFrame(OpPong, payload)
	if err != nil {
		return
	}
	if _, err := c.conn.Write(frame); err != nil {
		slog.Debug("writing pong", "error", err)
	}
}

// finish marks connection gen as ended and reports it once.
func (c *Client) finish(gen uint64, code int, msg string) {
	c.mu.Lock()
	current := gen == c.gen
	if current {
		c.conn = nil
		c.ready = false
		c.last = nil
		c.gen++
	}
	c.mu.Unlock()

	if current && c.handler.OnDisconnect != nil {
		c.handler.OnDisconnect(code, msg)
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}
