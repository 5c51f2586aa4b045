package main

import (
	"context"
	"time"

	"github.com/KilimcininKorOglu/cruise/internal/raft"
)

// call sends one request over a short-lived TCP transport.
func call(addr string, method raft.Method, msg raft.Message, timeout time.Duration) (*raft.Response, error) {
	target, err := raft.NormalizeAddr(addr)
	if err != nil {
		return nil, err
	}

	transport := raft.NewTCPTransport("")
	transport.SetTimeout(timeout)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := transport.Send(ctx, target, method, msg.Serialize())
	if err != nil {
		return nil, err
	}
	return raft.DeserializeResponse(data)
}
