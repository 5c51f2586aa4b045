package raft

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Transport carries requests between nodes. Delivery is at most once per
// call; retry policy belongs to the caller.
type Transport interface {
	// Send delivers a request to the node at addr and waits for its response.
	Send(ctx context.Context, addr string, method Method, data []byte) ([]byte, error)

	// Listen starts serving incoming requests with handler.
	Listen(handler RPCHandler) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the address other nodes use to reach this one.
	LocalAddr() string
}

// RPCHandler handles an incoming request and returns the encoded response.
// A nil response means the node could not answer.
type RPCHandler func(method Method, data []byte) []byte

// maxFrameSize bounds a single frame read from the network.
const maxFrameSize = 64 * 1024 * 1024

// maxIdleConns is the number of idle connections kept per remote address.
const maxIdleConns = 4

// TCPTransport implements Transport over TCP.
// Frame format: [method:1][length:4][data:N], the response uses the same framing.
type TCPTransport struct {
	addr     string
	listener net.Listener
	idle     map[string][]net.Conn // addr -> idle connections
	inbound  map[net.Conn]struct{}
	handler  RPCHandler
	timeout  time.Duration
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewTCPTransport creates a TCP transport bound to addr.
func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{
		addr:    addr,
		idle:    make(map[string][]net.Conn),
		inbound: make(map[net.Conn]struct{}),
		timeout: 5 * time.Second,
	}
}

// SetTimeout sets the dial and per-request I/O timeout.
func (t *TCPTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// LocalAddr returns the local address. After Listen it reports the bound
// address, which differs from the configured one when port 0 was used.
func (t *TCPTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Send sends a request to addr and waits for the response.
func (t *TCPTransport) Send(ctx context.Context, addr string, method Method, data []byte) ([]byte, error) {
	conn, err := t.getConn(ctx, addr)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	deadline := time.Now().Add(t.timeout)
	t.mu.RUnlock()
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	// Unblock I/O when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := writeFrame(conn, method, data); err != nil {
		conn.Close()
		return nil, t.sendError(ctx, addr, err)
	}

	_, resp, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, t.sendError(ctx, addr, err)
	}

	t.putConn(addr, conn)

	if len(resp) == 0 {
		return nil, fmt.Errorf("%s to %s: %w", method, addr, ErrTimeout)
	}
	return resp, nil
}

func (t *TCPTransport) sendError(ctx context.Context, addr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("send to %s: %w", addr, err)
}

func (t *TCPTransport) getConn(ctx context.Context, addr string) (net.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if conns := t.idle[addr]; len(conns) > 0 {
		conn := conns[len(conns)-1]
		t.idle[addr] = conns[:len(conns)-1]
		t.mu.Unlock()
		return conn, nil
	}
	timeout := t.timeout
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, addr, err)
	}
	return conn, nil
}

func (t *TCPTransport) putConn(addr string, conn net.Conn) {
	conn.SetDeadline(time.Time{})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.idle[addr]) >= maxIdleConns {
		conn.Close()
		return
	}
	t.idle[addr] = append(t.idle[addr], conn)
}

// Listen starts accepting connections and handling requests.
func (t *TCPTransport) Listen(handler RPCHandler) error {
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = listener
	t.handler = handler
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(listener)

	return nil
}

func (t *TCPTransport) acceptLoop(listener net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.isClosed() {
				return
			}
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.inbound[conn] = struct{}{}
		t.wg.Add(1)
		t.mu.Unlock()

		go t.handleConn(conn)
	}
}

func (t *TCPTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.inbound, conn)
		t.mu.Unlock()
		conn.Close()
	}()

	for !t.isClosed() {
		t.mu.RLock()
		timeout := t.timeout
		handler := t.handler
		t.mu.RUnlock()

		// Idle connections are dropped after a while.
		conn.SetReadDeadline(time.Now().Add(timeout * 2))

		method, data, err := readFrame(conn)
		if err != nil {
			return
		}

		var resp []byte
		if handler != nil {
			resp = handler(method, data)
		}

		conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := writeFrame(conn, method, resp); err != nil {
			return
		}
	}
}

// Close shuts down the transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener := t.listener
	for _, conns := range t.idle {
		for _, conn := range conns {
			conn.Close()
		}
	}
	t.idle = make(map[string][]net.Conn)
	// Unblocks handlers waiting on idle inbound connections.
	for conn := range t.inbound {
		conn.Close()
	}
	t.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	t.wg.Wait()

	return nil
}

func writeFrame(w io.Writer, method Method, data []byte) error {
	frame := make([]byte, 5+len(data))
	frame[0] = byte(method)
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(data)))
	copy(frame[5:], data)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) (Method, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	length := binary.LittleEndian.Uint32(header[1:5])
	if length > maxFrameSize {
		return 0, nil, ErrLogCorrupted
	}

	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return 0, nil, err
		}
	}
	return Method(header[0]), data, nil
}

// InMemoryNetwork connects InMemoryTransports by address. Links between
// addresses can be cut to simulate partitions.
type InMemoryNetwork struct {
	transports map[string]*InMemoryTransport
	cut        map[string]bool // "from|to" -> dropped
	mu         sync.RWMutex
}

// NewInMemoryNetwork creates a new in-memory network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		transports: make(map[string]*InMemoryTransport),
		cut:        make(map[string]bool),
	}
}

// NewTransport creates a transport reachable at addr.
func (n *InMemoryNetwork) NewTransport(addr string) *InMemoryTransport {
	t := &InMemoryTransport{
		addr:    addr,
		network: n,
	}

	n.mu.Lock()
	n.transports[addr] = t
	n.mu.Unlock()

	return t
}

// Disconnect drops all traffic to and from addr.
func (n *InMemoryNetwork) Disconnect(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for other := range n.transports {
		if other == addr {
			continue
		}
		n.cut[addr+"|"+other] = true
		n.cut[other+"|"+addr] = true
	}
}

// Connect restores all traffic to and from addr.
func (n *InMemoryNetwork) Connect(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for link := range n.cut {
		from, to, _ := strings.Cut(link, "|")
		if from == addr || to == addr {
			delete(n.cut, link)
		}
	}
}

func (n *InMemoryNetwork) route(from, to string) (*InMemoryTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.cut[from+"|"+to] {
		return nil, false
	}
	t, ok := n.transports[to]
	return t, ok
}

// InMemoryTransport implements Transport for tests.
type InMemoryTransport struct {
	addr    string
	network *InMemoryNetwork
	handler RPCHandler
	closed  bool
	mu      sync.RWMutex
}

// Send delivers the request to the handler registered at addr. The handler
// runs on its own goroutine so a cancelled ctx returns immediately.
func (t *InMemoryTransport) Send(ctx context.Context, addr string, method Method, data []byte) ([]byte, error) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, ErrTransportClosed
	}

	peer, ok := t.network.route(t.addr, addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectFailed, addr)
	}

	peer.mu.RLock()
	handler := peer.handler
	closed = peer.closed
	peer.mu.RUnlock()

	if closed || handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectFailed, addr)
	}

	// Requests are copied so the receiver never aliases the sender's buffer.
	payload := append([]byte(nil), data...)
	done := make(chan []byte, 1)
	go func() {
		done <- handler(method, payload)
	}()

	select {
	case resp := <-done:
		if len(resp) == 0 {
			return nil, fmt.Errorf("%s to %s: %w", method, addr, ErrTimeout)
		}
		// A partition raised while the request was in flight loses the reply.
		if _, ok := t.network.route(addr, t.addr); !ok {
			return nil, fmt.Errorf("%w: %s", ErrConnectFailed, addr)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Listen registers the request handler.
func (t *InMemoryTransport) Listen(handler RPCHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	return nil
}

// Close shuts down the transport.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handler = nil
	return nil
}

// LocalAddr returns the local address.
func (t *InMemoryTransport) LocalAddr() string {
	return t.addr
}
