package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// maxLineSize bounds a single request line; pasted images arrive inline as
// base64 and can be large.
const maxLineSize = 64 << 20

// Conn frames JSON-RPC messages as newline-delimited JSON. Writes are
// serialized so notifications from the turn goroutine never interleave with
// responses.
type Conn struct {
	r  *bufio.Reader
	mu sync.Mutex
	w  *bufio.Writer
}

// NewConn creates a connection reading from in and writing to out.
func NewConn(in io.Reader, out io.Writer) *Conn {
	return &Conn{
		r: bufio.NewReaderSize(in, 64<<10),
		w: bufio.NewWriter(out),
	}
}

// ReadMessage returns the next non-blank line without its terminator. A
// final line without a newline is still returned before io.EOF.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
					return trimmed, nil
				}
			}
			return nil, err
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			return trimmed, nil
		}
	}
}

func (c *Conn) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineSize {
			return nil, errors.New("message exceeds maximum size")
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}

// Notify sends a notification.
func (c *Conn) Notify(method string, params any) error {
	return c.send(&Notification{JSONRPC: Version, Method: method, Params: params})
}

// SendResponse writes a response.
func (c *Conn) SendResponse(resp *Response) error {
	if resp == nil {
		return nil
	}
	return c.send(resp)
}

func (c *Conn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return c.w.Flush()
}
