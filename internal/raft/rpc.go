package raft

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Method identifies an RPC on the peer surface.
type Method uint8

// RPC methods.
const (
	MethodAppendEntries Method = iota + 1
	MethodRequestVote
	MethodRecord
	MethodStatus
)

// String returns the wire name of the method.
func (m Method) String() string {
	switch m {
	case MethodAppendEntries:
		return "AppendEntries"
	case MethodRequestVote:
		return "RequestVote"
	case MethodRecord:
		return "Record"
	case MethodStatus:
		return "Status"
	default:
		return "Unknown"
	}
}

// Header is carried by every request. The sender stamps its current term and
// address before the request leaves the node.
type Header struct {
	Term uint64 // Sender's term
	From string // Sender's address
}

func (h *Header) header() *Header { return h }

// Message is a request that can travel over a Transport.
type Message interface {
	Serialize() []byte
	header() *Header
}

// AppendEntriesRequest is sent by the leader to replicate entries and as heartbeat.
type AppendEntriesRequest struct {
	Header
	LeaderID     string   // So followers can record the leader
	PrevLogIndex uint64   // Index of the entry immediately preceding Entries
	PrevLogTerm  uint64   // Term of the PrevLogIndex entry
	Entries      []*Entry // Entries to store (empty for heartbeat)
	LeaderCommit uint64   // Leader's commit index
}

// Serialize encodes the request to bytes.
func (a *AppendEntriesRequest) Serialize() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, &a.Header)
	writeString(&buf, a.LeaderID)
	writeUint64(&buf, a.PrevLogIndex)
	writeUint64(&buf, a.PrevLogTerm)
	writeUint64(&buf, a.LeaderCommit)
	writeUint64(&buf, uint64(len(a.Entries)))
	for _, entry := range a.Entries {
		writeBytes(&buf, entry.Serialize())
	}
	return buf.Bytes()
}

// DeserializeAppendEntriesRequest decodes an AppendEntriesRequest from bytes.
func DeserializeAppendEntriesRequest(data []byte) (*AppendEntriesRequest, error) {
	r := bytes.NewReader(data)
	req := &AppendEntriesRequest{}

	var err error
	if err = readHeader(r, &req.Header); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.LeaderID, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.PrevLogIndex, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.PrevLogTerm, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.LeaderCommit, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}

	count, err := readUint64(r)
	if err != nil || count > uint64(r.Len()) {
		return nil, ErrLogCorrupted
	}
	req.Entries = make([]*Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		data, err := readBytes(r)
		if err != nil {
			return nil, ErrLogCorrupted
		}
		entry, err := DeserializeEntry(data)
		if err != nil {
			return nil, err
		}
		req.Entries = append(req.Entries, entry)
	}

	return req, nil
}

// RequestVoteRequest is sent by candidates to gather votes.
type RequestVoteRequest struct {
	Header
	CandidateID  string // Candidate requesting the vote
	LastLogIndex uint64 // Index of candidate's last log entry
	LastLogTerm  uint64 // Term of candidate's last log entry
}

// Serialize encodes the request to bytes.
func (r *RequestVoteRequest) Serialize() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, &r.Header)
	writeString(&buf, r.CandidateID)
	writeUint64(&buf, r.LastLogIndex)
	writeUint64(&buf, r.LastLogTerm)
	return buf.Bytes()
}

// DeserializeRequestVoteRequest decodes a RequestVoteRequest from bytes.
func DeserializeRequestVoteRequest(data []byte) (*RequestVoteRequest, error) {
	r := bytes.NewReader(data)
	req := &RequestVoteRequest{}

	var err error
	if err = readHeader(r, &req.Header); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.CandidateID, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.LastLogIndex, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.LastLogTerm, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}
	return req, nil
}

// RecordRequest forwards a client value to the leader.
type RecordRequest struct {
	Header
	RequestID string // Correlates log lines across nodes
	Value     []byte
}

// Serialize encodes the request to bytes.
func (r *RecordRequest) Serialize() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, &r.Header)
	writeString(&buf, r.RequestID)
	writeBytes(&buf, r.Value)
	return buf.Bytes()
}

// DeserializeRecordRequest decodes a RecordRequest from bytes.
func DeserializeRecordRequest(data []byte) (*RecordRequest, error) {
	r := bytes.NewReader(data)
	req := &RecordRequest{}

	var err error
	if err = readHeader(r, &req.Header); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.RequestID, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if req.Value, err = readBytes(r); err != nil {
		return nil, ErrLogCorrupted
	}
	return req, nil
}

// StatusRequest asks a node for its Status.
type StatusRequest struct {
	Header
}

// Serialize encodes the request to bytes.
func (s *StatusRequest) Serialize() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, &s.Header)
	return buf.Bytes()
}

// DeserializeStatusRequest decodes a StatusRequest from bytes.
func DeserializeStatusRequest(data []byte) (*StatusRequest, error) {
	req := &StatusRequest{}
	if err := readHeader(bytes.NewReader(data), &req.Header); err != nil {
		return nil, ErrLogCorrupted
	}
	return req, nil
}

// decodeRequest decodes the request body for method.
func decodeRequest(method Method, data []byte) (Message, error) {
	switch method {
	case MethodAppendEntries:
		return DeserializeAppendEntriesRequest(data)
	case MethodRequestVote:
		return DeserializeRequestVoteRequest(data)
	case MethodRecord:
		return DeserializeRecordRequest(data)
	case MethodStatus:
		return DeserializeStatusRequest(data)
	default:
		return nil, ErrLogCorrupted
	}
}

// Response is the reply to every method. Term and From are stamped by the
// responding node after its handler ran.
type Response struct {
	Term    uint64 // Responder's current term
	Success bool   // Vote granted, entries accepted, or record committed
	From    string // Responder's address
	Data    []byte // Method specific payload (Status)
}

// Serialize encodes the response to bytes.
func (r *Response) Serialize() []byte {
	var buf bytes.Buffer
	writeUint64(&buf, r.Term)
	if r.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeString(&buf, r.From)
	writeBytes(&buf, r.Data)
	return buf.Bytes()
}

// DeserializeResponse decodes a Response from bytes.
func DeserializeResponse(data []byte) (*Response, error) {
	r := bytes.NewReader(data)
	resp := &Response{}

	var err error
	if resp.Term, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}
	flag, err := r.ReadByte()
	if err != nil {
		return nil, ErrLogCorrupted
	}
	resp.Success = flag == 1
	if resp.From, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if resp.Data, err = readBytes(r); err != nil {
		return nil, ErrLogCorrupted
	}
	return resp, nil
}

// Status is a point-in-time view of a node, served over MethodStatus.
type Status struct {
	ID          string   `json:"id"`
	Addr        string   `json:"addr"`
	State       string   `json:"state"`
	Term        uint64   `json:"term"`
	LeaderID    string   `json:"leaderId"`
	Leader      string   `json:"leader"`
	CommitIndex uint64   `json:"commitIndex"`
	LastIndex   uint64   `json:"lastIndex"`
	Peers       []string `json:"peers"`
}

// Serialize encodes the status to bytes.
func (s *Status) Serialize() []byte {
	var buf bytes.Buffer
	writeString(&buf, s.ID)
	writeString(&buf, s.Addr)
	writeString(&buf, s.State)
	writeUint64(&buf, s.Term)
	writeString(&buf, s.LeaderID)
	writeString(&buf, s.Leader)
	writeUint64(&buf, s.CommitIndex)
	writeUint64(&buf, s.LastIndex)
	binary.Write(&buf, binary.LittleEndian, uint16(len(s.Peers)))
	for _, p := range s.Peers {
		writeString(&buf, p)
	}
	return buf.Bytes()
}

// DeserializeStatus decodes a Status from bytes.
func DeserializeStatus(data []byte) (*Status, error) {
	r := bytes.NewReader(data)
	s := &Status{}

	var err error
	if s.ID, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if s.Addr, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if s.State, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if s.Term, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if s.LeaderID, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if s.Leader, err = readString(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if s.CommitIndex, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}
	if s.LastIndex, err = readUint64(r); err != nil {
		return nil, ErrLogCorrupted
	}

	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, ErrLogCorrupted
	}
	s.Peers = make([]string, 0, count)
	for i := uint16(0); i < count; i++ {
		p, err := readString(r)
		if err != nil {
			return nil, ErrLogCorrupted
		}
		s.Peers = append(s.Peers, p)
	}
	return s, nil
}

// Helper functions for serialization

func writeHeader(buf *bytes.Buffer, h *Header) {
	writeUint64(buf, h.Term)
	writeString(buf, h.From)
}

func readHeader(r *bytes.Reader, h *Header) error {
	var err error
	if h.Term, err = readUint64(r); err != nil {
		return err
	}
	h.From, err = readString(r)
	return err
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if int(length) > r.Len() {
		return "", ErrLogCorrupted
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
}

// readBytes reads a length-prefixed byte slice. The length is checked
// against the remaining input before anything is allocated.
func readBytes(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	if int64(length) > int64(r.Len()) {
		return nil, ErrLogCorrupted
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
