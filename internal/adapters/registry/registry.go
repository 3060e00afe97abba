// Package registry tracks live client connections: their ids, outbound
// stream handles, datagram return addresses and cancellation.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

// Sender delivers reliable messages to one client.
type Sender interface {
	Send(ctx context.Context, msg protocol.ConfigurationDown) error
}

// DatagramWriter sends unreliable messages to an address.
type DatagramWriter interface {
	WriteDatagram(addr netip.AddrPort, msg protocol.DatagramDown) error
}

// Client is the handle of one live connection.
type Client struct {
	ID          model.ClientID
	Token       uint64
	Remote      string
	ConnectedAt time.Time

	sender Sender
	cancel context.CancelFunc

	mu       sync.RWMutex
	datagram netip.AddrPort
}

// Send delivers msg on the client's reliable stream.
func (c *Client) Send(ctx context.Context, msg protocol.ConfigurationDown) error {
	return c.sender.Send(ctx, msg)
}

// DatagramAddr returns the bound UDP return address, if any.
func (c *Client) DatagramAddr() (netip.AddrPort, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.datagram, c.datagram.IsValid()
}

func (c *Client) bind(addr netip.AddrPort) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.datagram == addr {
		return false
	}
	c.datagram = addr
	return true
}

// Registry maps client ids to handles. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[model.ClientID]*Client

	datagrams DatagramWriter
	logger    logger.Logger
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		clients: make(map[model.ClientID]*Client),
		logger:  logger.Get().Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetDatagramWriter attaches the datagram socket once it is bound.
func (r *Registry) SetDatagramWriter(w DatagramWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datagrams = w
}

// Register adds a connection under the lowest free id and a fresh token.
// cancel is invoked when the client is removed.
func (r *Registry) Register(sender Sender, cancel context.CancelFunc, remote string) *Client {
	c := &Client{
		Token:       newToken(),
		Remote:      remote,
		ConnectedAt: time.Now(),
		sender:      sender,
		cancel:      cancel,
	}

	r.mu.Lock()
	id := model.ClientID(1)
	for {
		if _, taken := r.clients[id]; !taken {
			break
		}
		id++
	}
	c.ID = id
	r.clients[id] = c
	n := len(r.clients)
	r.mu.Unlock()

	metrics.RecordConnection()
	metrics.UpdateConnectedClients(n)
	r.logger.Info(context.Background(), "client registered",
		logger.ClientID(id), logger.String("remote", remote), logger.Int("clients", n))
	return c
}

// Get returns the handle for id. Absent ids are not an error.
func (r *Registry) Get(id model.ClientID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Remove drops id and cancels its connection. It reports whether the id was
// present; removing twice is harmless.
func (r *Registry) Remove(id model.ClientID) bool {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	n := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if c.cancel != nil {
		c.cancel()
	}
	metrics.UpdateConnectedClients(n)
	r.logger.Info(context.Background(), "client removed", logger.ClientID(id), logger.Int("clients", n))
	return true
}

// Clients returns a snapshot of every handle ordered by id.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []model.ClientID {
	clients := r.Clients()
	ids := make([]model.ClientID, len(clients))
	for i, c := range clients {
		ids[i] = c.ID
	}
	return ids
}

// Len is the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Authenticate checks a datagram's id and token and binds its source address
// as the client's return address.
func (r *Registry) Authenticate(id model.ClientID, token uint64, from netip.AddrPort) (*Client, error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, ErrUnknownClient
	}
	if c.Token != token {
		return nil, ErrBadToken
	}
	if c.bind(from) {
		r.logger.Debug(context.Background(), "datagram address bound",
			logger.ClientID(id), logger.String("addr", from.String()))
	}
	return c, nil
}

// Send delivers msg to id on its reliable stream.
func (r *Registry) Send(ctx context.Context, id model.ClientID, msg protocol.ConfigurationDown) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrUnknownClient
	}
	if err := c.Send(ctx, msg); err != nil {
		metrics.RecordSendFailure("stream")
		return err
	}
	return nil
}

// SendDatagram sends msg to id's bound return address. A client that has not
// sent a datagram yet is skipped.
func (r *Registry) SendDatagram(id model.ClientID, msg protocol.DatagramDown) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrUnknownClient
	}
	return r.sendDatagram(c, msg)
}

func (r *Registry) sendDatagram(c *Client, msg protocol.DatagramDown) error {
	addr, bound := c.DatagramAddr()
	if !bound {
		return nil
	}
	r.mu.RLock()
	w := r.datagrams
	r.mu.RUnlock()
	if w == nil {
		return ErrNoDatagramWriter
	}
	if err := w.WriteDatagram(addr, msg); err != nil {
		metrics.RecordSendFailure("datagram")
		return err
	}
	return nil
}

// Broadcast sends msg to every client. Failures are logged per client.
func (r *Registry) Broadcast(ctx context.Context, msg protocol.ConfigurationDown) {
	for _, c := range r.Clients() {
		if err := c.Send(ctx, msg); err != nil {
			metrics.RecordSendFailure("stream")
			r.logger.Warn(ctx, "broadcast failed",
				logger.ClientID(c.ID), logger.String("kind", msg.Kind().String()), logger.Error(err))
		}
	}
}

// BroadcastDatagram sends msg to every client with a bound address.
func (r *Registry) BroadcastDatagram(msg protocol.DatagramDown) {
	for _, c := range r.Clients() {
		if err := r.sendDatagram(c, msg); err != nil {
			r.logger.Debug(context.Background(), "datagram broadcast failed",
				logger.ClientID(c.ID), logger.String("kind", msg.Kind().String()), logger.Error(err))
		}
	}
}

// Close removes every client.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}

func newToken() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
