package raft

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used for peer addresses given without a port.
const DefaultPort = 4001

// NormalizeAddr returns addr in host:port form, adding DefaultPort when the
// port is missing. A missing host means localhost.
func NormalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "tcp://")
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidConfig)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port present.
		host = strings.Trim(addr, "[]")
		port = strconv.Itoa(DefaultPort)
	}
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("%w: invalid port in %q", ErrInvalidConfig, addr)
	}
	return net.JoinHostPort(host, port), nil
}

// Peer is one remote node as seen from this node.
//
// nextIndex and matchIndex are the leader's replication cursors: nextIndex is
// the next entry to try, matchIndex the highest entry known to be stored on
// the peer. Both are reset whenever this node becomes leader. Peer fields are
// owned by the node's control loop.
type Peer struct {
	addr      string
	transport Transport

	nextIndex  uint64
	matchIndex uint64
	inflight   bool
}

// newPeer creates a peer reachable at addr.
func newPeer(addr string, transport Transport) *Peer {
	return &Peer{
		addr:      addr,
		transport: transport,
		nextIndex: 1,
	}
}

// Addr returns the peer's address.
func (p *Peer) Addr() string {
	return p.addr
}

// NextIndex returns the next index the leader will send.
func (p *Peer) NextIndex() uint64 {
	return p.nextIndex
}

// MatchIndex returns the highest index known to be replicated on the peer.
func (p *Peer) MatchIndex() uint64 {
	return p.matchIndex
}

// reset moves the cursors to the state of a freshly elected leader.
func (p *Peer) reset(lastIndex uint64) {
	p.nextIndex = lastIndex + 1
	p.matchIndex = 0
	p.inflight = false
}

// Call sends msg to the peer and decodes the response. It blocks, so callers
// run it off the control loop.
func (p *Peer) Call(ctx context.Context, method Method, msg Message) (*Response, error) {
	data, err := p.transport.Send(ctx, p.addr, method, msg.Serialize())
	if err != nil {
		return nil, err
	}
	resp, err := DeserializeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("%s from %s: %w", method, p.addr, err)
	}
	return resp, nil
}
