package raft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logger interface for Raft logging
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// defaultLogger is a no-op logger
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, args ...interface{}) {}
func (l *defaultLogger) Info(msg string, args ...interface{})  {}
func (l *defaultLogger) Warn(msg string, args ...interface{})  {}
func (l *defaultLogger) Error(msg string, args ...interface{}) {}

// snapshot is the view of the node published for concurrent readers.
type snapshot struct {
	state  State
	status *Status
}

// Node is a single participant in a Raft cluster.
//
// All consensus state is owned by one control-loop goroutine. Requests,
// timers and peer replies are queued as tasks and run on that loop one at a
// time; exported getters read a snapshot published after every batch.
type Node struct {
	id        string
	addr      string
	config    *NodeConfig
	transport Transport
	peers     []*Peer
	log       *Log
	hardState HardStateStore
	logger    Logger

	// Owned by the control loop.
	term       uint64
	votedFor   string
	leaderID   string
	leaderAddr string
	heartbeat  time.Time
	role       role
	gen        uint64
	handlers   map[Method]handlerFunc
	switching  bool
	halted     bool

	// Task queue.
	taskMu sync.Mutex
	tasks  []func()
	taskCh chan struct{}
	closed bool

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	status atomic.Pointer[snapshot]
}

// NewNode creates a node. store receives committed entries and may be nil.
// When store implements Recoverer the log resumes after its last committed
// entry, and when it implements HardStateStore and cfg.PersistHardState is
// set, term and vote are restored from it.
func NewNode(cfg *NodeConfig, transport Transport, store Store) (*Node, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr, err := NormalizeAddr(cfg.Addr)
	if err != nil {
		return nil, err
	}
	cfg.Addr = addr

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	n := &Node{
		id:        id,
		addr:      addr,
		config:    cfg,
		transport: transport,
		log:       NewLog(),
		logger:    &defaultLogger{},
		taskCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	seen := map[string]bool{addr: true}
	for _, p := range cfg.Peers {
		peerAddr, err := NormalizeAddr(p)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", p, err)
		}
		if seen[peerAddr] {
			continue
		}
		seen[peerAddr] = true
		n.peers = append(n.peers, newPeer(peerAddr, transport))
	}

	if store != nil {
		n.log.SetStore(store)
		if r, ok := store.(Recoverer); ok {
			index, term, err := r.LastCommitted()
			if err != nil {
				return nil, fmt.Errorf("recover log: %w", err)
			}
			n.log.Reset(index, term)
		}
		if hs, ok := store.(HardStateStore); ok && cfg.PersistHardState {
			state, err := hs.LoadHardState()
			if err != nil {
				return nil, fmt.Errorf("load hard state: %w", err)
			}
			n.hardState = hs
			n.term = state.Term
			n.votedFor = state.VotedFor
		}
	}

	n.publish()
	return n, nil
}

// SetLogger sets the logger for the node. Call before Start.
func (n *Node) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	n.logger = logger
	n.log.SetLogger(logger)
}

// SetApplier sets the callback that receives committed command entries in
// log order. Call before Start.
func (n *Node) SetApplier(fn func(*Entry)) {
	n.log.SetApplier(fn)
}

// ID returns the node's ID.
func (n *Node) ID() string {
	return n.id
}

// Addr returns the address the node serves on.
func (n *Node) Addr() string {
	return n.status.Load().status.Addr
}

// State returns the current role.
func (n *Node) State() State {
	return n.status.Load().state
}

// IsLeader returns true if this node is the leader.
func (n *Node) IsLeader() bool {
	return n.State() == StateLeader
}

// Term returns the current term.
func (n *Node) Term() uint64 {
	return n.status.Load().status.Term
}

// Leader returns the address of the known leader, or "" if unknown.
func (n *Node) Leader() string {
	return n.status.Load().status.Leader
}

// LeaderID returns the ID of the known leader, or "" if unknown.
func (n *Node) LeaderID() string {
	return n.status.Load().status.LeaderID
}

// CommitIndex returns the commit index.
func (n *Node) CommitIndex() uint64 {
	return n.status.Load().status.CommitIndex
}

// Status returns a copy of the node's latest published status.
func (n *Node) Status() Status {
	s := *n.status.Load().status
	s.Peers = append([]string(nil), s.Peers...)
	return s
}

// QuorumSize returns the number of nodes, this one included, that form a majority.
func (n *Node) QuorumSize() int {
	return (len(n.peers)+1)/2 + 1
}

// Start starts serving requests and begins as a follower.
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return nil // Already running
	}

	if err := n.transport.Listen(n.handleRPC); err != nil {
		n.started.Store(false)
		return fmt.Errorf("listen on %s: %w", n.addr, err)
	}
	n.addr = n.transport.LocalAddr()
	n.publish()

	go n.run()

	n.post(func() {
		n.logger.Info("node started", "id", n.id, "addr", n.addr, "peers", len(n.peers),
			"term", n.term, "commitIndex", n.log.CommitIndex())
		n.transitionTo(StateFollower)
	})
	return nil
}

// Stop stops the active role, the control loop and the transport.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		if n.started.Load() {
			n.exec(func() {
				n.halted = true
				if n.role != nil {
					n.role.stop()
				}
				n.gen++
			})
		}

		n.taskMu.Lock()
		n.closed = true
		n.tasks = nil
		n.taskMu.Unlock()

		close(n.stopCh)
		if n.started.Load() {
			<-n.doneCh
		}
		err = n.transport.Close()
		n.logger.Info("node stopped", "id", n.id)
	})
	return err
}

// post queues a task for the control loop. It reports false once the node
// has stopped.
func (n *Node) post(task func()) bool {
	n.taskMu.Lock()
	if n.closed {
		n.taskMu.Unlock()
		return false
	}
	n.tasks = append(n.tasks, task)
	n.taskMu.Unlock()

	select {
	case n.taskCh <- struct{}{}:
	default:
	}
	return true
}

// exec runs fn on the control loop and waits for it.
func (n *Node) exec(fn func()) bool {
	done := make(chan struct{})
	if !n.post(func() {
		fn()
		n.publish()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-n.doneCh:
		return false
	}
}

// afterFunc runs fn on the control loop once d has elapsed. It is not tied
// to a role.
func (n *Node) afterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		n.post(fn)
	})
}

// run is the control loop.
func (n *Node) run() {
	defer close(n.doneCh)

	for {
		select {
		case <-n.stopCh:
			return
		case <-n.taskCh:
		}

		for {
			n.taskMu.Lock()
			tasks := n.tasks
			n.tasks = nil
			n.taskMu.Unlock()
			if len(tasks) == 0 {
				break
			}
			for _, task := range tasks {
				task()
			}
		}

		n.publish()
	}
}

// publish stores a fresh snapshot for the getters.
func (n *Node) publish() {
	state := StateFollower
	if n.role != nil {
		state = n.role.state()
	}
	n.status.Store(&snapshot{state: state, status: n.buildStatus(state)})
}

func (n *Node) buildStatus(state State) *Status {
	peers := make([]string, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p.addr)
	}
	return &Status{
		ID:          n.id,
		Addr:        n.addr,
		State:       state.String(),
		Term:        n.term,
		LeaderID:    n.leaderID,
		Leader:      n.leaderAddr,
		CommitIndex: n.log.CommitIndex(),
		LastIndex:   n.log.LastIndex(),
		Peers:       peers,
	}
}

// transitionTo stops the current role and starts a new one in state s.
// It is the only place that replaces the role.
func (n *Node) transitionTo(s State) {
	if n.halted {
		return
	}

	n.switching = true
	defer func() { n.switching = false }()

	from := "none"
	if n.role != nil {
		from = n.role.state().String()
		n.role.stop()
	}
	n.gen++

	var r role
	switch s {
	case StateCandidate:
		r = newCandidate(n)
	case StateLeader:
		r = newLeader(n)
	default:
		r = newFollower(n)
	}

	n.role = r
	n.handlers = r.handlers()
	n.heartbeat = time.Now()
	n.logger.Debug("role transition", "from", from, "to", s, "term", n.term)
	r.start()
}

// requestTransition is how a role asks to be replaced. Requests from a role
// that is no longer live are ignored. A request made while a transition is
// underway is queued and re-checked.
func (n *Node) requestTransition(gen uint64, s State) bool {
	if gen != n.gen || n.halted {
		return false
	}
	if n.switching {
		n.post(func() {
			n.requestTransition(gen, s)
		})
		return true
	}
	n.transitionTo(s)
	return true
}

// stepDown adopts a higher term, forgets the vote and leader, and becomes a
// follower.
func (n *Node) stepDown(term uint64) {
	if term <= n.term || n.halted {
		return
	}
	n.logger.Info("higher term observed, stepping down", "term", n.term, "newTerm", term)
	n.term = term
	n.votedFor = ""
	n.setLeader("", "")
	n.saveHardState()

	if n.role != nil && n.role.state() == StateFollower {
		return
	}
	n.transitionTo(StateFollower)
}

func (n *Node) setLeader(id, addr string) {
	if n.leaderID == id && n.leaderAddr == addr {
		return
	}
	n.leaderID = id
	n.leaderAddr = addr
	if id != "" {
		n.logger.Info("leader changed", "leader", id, "addr", addr, "term", n.term)
	}
}

func (n *Node) saveHardState() {
	if n.hardState == nil {
		return
	}
	if err := n.hardState.SaveHardState(HardState{Term: n.term, VotedFor: n.votedFor}); err != nil {
		n.logger.Error("failed to persist hard state", "term", n.term, "error", err)
	}
}

// stamp writes this node's term and address into an outgoing request.
func (n *Node) stamp(msg Message) {
	h := msg.header()
	h.Term = n.term
	h.From = n.addr
}

// handleRPC is the transport handler. It runs on a transport goroutine and
// waits for the control loop to answer.
func (n *Node) handleRPC(method Method, data []byte) []byte {
	req, err := decodeRequest(method, data)
	if err != nil {
		n.logger.Warn("dropping malformed request", "method", method, "error", err)
		return nil
	}

	done := make(chan *Response, 1)
	posted := n.post(func() {
		n.dispatch(method, req, func(resp *Response) {
			resp.Term = n.term
			resp.From = n.addr
			n.publish()
			select {
			case done <- resp:
			default:
			}
		})
	})
	if !posted {
		return nil
	}

	timer := time.NewTimer(n.config.RPCTimeout)
	defer timer.Stop()

	select {
	case resp := <-done:
		return resp.Serialize()
	case <-timer.C:
		n.logger.Warn("request not answered in time", "method", method, "from", req.header().From)
		return nil
	case <-n.stopCh:
		return nil
	}
}

// dispatch applies the step-down rule and hands req to the live role.
func (n *Node) dispatch(method Method, req Message, reply func(*Response)) {
	if n.halted {
		return
	}
	if term := req.header().Term; term > n.term {
		n.stepDown(term)
	}

	handler, ok := n.handlers[method]
	if !ok {
		reply(&Response{Success: false})
		return
	}
	handler(req, reply)
}

// handleStatus serves MethodStatus.
func (n *Node) handleStatus(_ Message, reply func(*Response)) {
	state := StateFollower
	if n.role != nil {
		state = n.role.state()
	}
	reply(&Response{Success: true, Data: n.buildStatus(state).Serialize()})
}

// handleRecord serves a record forwarded by another node or a client.
func (n *Node) handleRecord(msg Message, reply func(*Response)) {
	req := msg.(*RecordRequest)
	ctx, cancel := context.WithTimeout(context.Background(), n.config.RPCTimeout)
	n.logger.Debug("record received", "requestId", req.RequestID, "from", req.From)
	n.submit(ctx, req.Value, req.RequestID, func(err error) {
		cancel()
		if err != nil {
			n.logger.Debug("record failed", "requestId", req.RequestID, "error", err)
		}
		reply(&Response{Success: err == nil})
	})
}

// Submit replicates value through the leader and calls fn once it is
// committed, or with the error that stopped it. On the leader the value is
// appended directly; elsewhere it is forwarded to the known leader. While no
// leader is known the submission is retried every RetryDelay until ctx is
// done, and then fails with ErrLeaderUnknown wrapping ctx.Err(). fn runs on
// the control loop and must not block.
func (n *Node) Submit(ctx context.Context, value []byte, fn func(error)) {
	requestID := uuid.NewString()
	if !n.post(func() { n.submit(ctx, value, requestID, fn) }) {
		fn(ErrNodeStopped)
	}
}

func (n *Node) submit(ctx context.Context, value []byte, requestID string, fn func(error)) {
	if n.halted {
		return
	}
	l, isLeader := n.role.(*leader)
	if err := ctx.Err(); err != nil {
		if !isLeader && n.leaderAddr == "" {
			err = fmt.Errorf("%w: %w", ErrLeaderUnknown, err)
		}
		fn(err)
		return
	}

	if isLeader {
		l.record(value, fn)
		return
	}

	if n.leaderAddr == "" {
		n.afterFunc(n.config.RetryDelay, func() {
			n.submit(ctx, value, requestID, fn)
		})
		return
	}

	addr := n.leaderAddr
	req := &RecordRequest{RequestID: requestID, Value: value}
	n.stamp(req)

	go func() {
		callCtx, cancel := context.WithTimeout(ctx, n.config.RPCTimeout)
		data, err := n.transport.Send(callCtx, addr, MethodRecord, req.Serialize())
		cancel()

		var resp *Response
		if err == nil {
			resp, err = DeserializeResponse(data)
		}

		n.post(func() {
			if err != nil {
				if errors.Is(err, ErrConnectFailed) && ctx.Err() == nil {
					n.logger.Debug("leader unreachable, retrying record", "leader", addr, "requestId", requestID)
					n.afterFunc(n.config.RetryDelay, func() {
						n.submit(ctx, value, requestID, fn)
					})
					return
				}
				fn(fmt.Errorf("forward record to %s: %w", addr, err))
				return
			}
			if resp.Term > n.term {
				n.stepDown(resp.Term)
			}
			if !resp.Success {
				fn(ErrRecordRejected)
				return
			}
			fn(nil)
		})
	}()
}

// Record replicates value and blocks until it is committed.
func (n *Node) Record(ctx context.Context, value []byte) error {
	done := make(chan error, 1)
	n.Submit(ctx, value, func(err error) {
		select {
		case done <- err:
		default:
		}
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopCh:
		return ErrNodeStopped
	}
}

// maybePrune drops the committed prefix once the in-memory log grows past
// MaxLogEntries. A leader keeps what its slowest peer still needs.
func (n *Node) maybePrune() {
	limit := n.config.MaxLogEntries
	if limit <= 0 || n.log.Size() <= limit {
		return
	}

	index := n.log.CommitIndex()
	if _, ok := n.role.(*leader); ok {
		for _, p := range n.peers {
			if p.matchIndex < index {
				index = p.matchIndex
			}
		}
	}
	if index <= n.log.StartIndex() {
		return
	}

	n.log.Prune(index)
	n.logger.Debug("pruned committed entries", "through", index, "remaining", n.log.Size())
}
