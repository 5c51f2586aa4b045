package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/cruise/internal/logging"
	"github.com/KilimcininKorOglu/cruise/internal/raft"
)

// errRejected is returned when a node answers a record request with failure.
var errRejected = errors.New("record was not committed")

// recordCmd handles the record command.
func recordCmd(args []string) int {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", "localhost:4001", "Address of any cluster node")
	timeout := fs.Duration("timeout", 5*time.Second, "How long to wait for the commit")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printRecordUsage(os.Stdout)
		return 0
	}

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: value is required")
		fmt.Fprintln(os.Stderr, "Usage: cruise record [options] <value>")
		return 1
	}
	value := strings.Join(fs.Args(), " ")

	requestID := logging.GenerateRequestID()
	if err := sendRecord(*addr, requestID, []byte(value), *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Record failed: %v\n", err)
		return 1
	}

	fmt.Printf("Recorded (request %s)\n", requestID)
	return 0
}

// sendRecord submits value to the node at addr and waits for the reply.
func sendRecord(addr, requestID string, value []byte, timeout time.Duration) error {
	resp, err := call(addr, raft.MethodRecord, &raft.RecordRequest{
		RequestID: requestID,
		Value:     value,
	}, timeout)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errRejected
	}
	return nil
}
