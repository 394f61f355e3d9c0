package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/archive"
)

const (
	// callTimeout bounds ordinary control calls.
	callTimeout = 30 * time.Second
	// collectTimeout bounds CollectNow, which pages the NAS and can run
	// for minutes on a large backlog.
	collectTimeout = 5 * time.Minute
)

// Client talks to a control server over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the control server at the given socket path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("control: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params, dest interface{}, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("control: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("control: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("control: read: %w", err)
		}
		return fmt.Errorf("control: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("control: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("control: unmarshal result: %w", err)
		}
	}
	return nil
}

// Status reports the daemon's identity and archive totals.
func (c *Client) Status() (StatusInfo, error) {
	var result StatusInfo
	err := c.call("Status", map[string]interface{}{}, &result, callTimeout)
	return result, err
}

// CollectNow asks the daemon to run one collection immediately.
func (c *Client) CollectNow() (CollectResult, error) {
	var result CollectResult
	err := c.call("CollectNow", map[string]interface{}{}, &result, collectTimeout)
	return result, err
}

// RecentRuns returns the daemon's most recent collection runs, newest first.
func (c *Client) RecentRuns(limit int) ([]archive.RunInfo, error) {
	var result []archive.RunInfo
	err := c.call("RecentRuns", map[string]interface{}{"Limit": limit}, &result, callTimeout)
	return result, err
}
