package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Conn is one connected client. The ref is the connection identity
// stored in the presence registry; it carries no participant identity
// until the client registers.
type Conn struct {
	Ref string

	ws   *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{Ref: uuid.NewString(), ws: ws, done: make(chan struct{})}
}

// WriteEnvelope serializes writers on the underlying socket.
func (c *Conn) WriteEnvelope(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Table tracks the connections owned by this process.
type Table struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewTable() *Table {
	return &Table{conns: make(map[string]*Conn)}
}

func (t *Table) Add(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.Ref] = c
}

func (t *Table) Remove(ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, ref)
}

func (t *Table) Get(ref string) (*Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[ref]
	return c, ok
}

// Writer adapts the table to the relay's ConnSource.
func (t *Table) Writer(ref string) (EnvelopeWriter, bool) {
	c, ok := t.Get(ref)
	if !ok {
		return nil, false
	}
	return c, true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
