package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/KilimcininKorOglu/cruise/internal/raft"
)

// statusCmd handles the status command.
func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", "localhost:4001", "Address of the node to query")
	asJSON := fs.Bool("json", false, "Print the status as JSON")
	timeout := fs.Duration("timeout", 2*time.Second, "Request timeout")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printStatusUsage(os.Stdout)
		return 0
	}

	status, err := fetchStatus(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode status: %v\n", err)
			return 1
		}
		return 0
	}

	printStatus(os.Stdout, status)
	return 0
}

// fetchStatus asks the node at addr for its Status.
func fetchStatus(addr string, timeout time.Duration) (*raft.Status, error) {
	resp, err := call(addr, raft.MethodStatus, &raft.StatusRequest{}, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("node %s refused the status request", addr)
	}
	return raft.DeserializeStatus(resp.Data)
}

func printStatus(w io.Writer, s *raft.Status) {
	leader := s.Leader
	if leader == "" {
		leader = "(unknown)"
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", s.ID)
	fmt.Fprintf(tw, "Address:\t%s\n", s.Addr)
	fmt.Fprintf(tw, "State:\t%s\n", s.State)
	fmt.Fprintf(tw, "Term:\t%d\n", s.Term)
	fmt.Fprintf(tw, "Leader:\t%s\n", leader)
	fmt.Fprintf(tw, "Commit index:\t%d\n", s.CommitIndex)
	fmt.Fprintf(tw, "Last index:\t%d\n", s.LastIndex)
	fmt.Fprintf(tw, "Peers:\t%s\n", strings.Join(s.Peers, ", "))
	tw.Flush()
}
