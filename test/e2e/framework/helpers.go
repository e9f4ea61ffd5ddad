package framework

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Client speaks the server's one-request-per-connection protocol over a raw
// TCP (or TLS) connection, so requests reach the router byte for byte.
type Client struct {
	Addr    string
	TLS     *tls.Config
	Timeout time.Duration
}

// Reply is a parsed response. A dropped request yields a Reply with Dropped
// set and nothing else.
type Reply struct {
	StatusLine string
	Code       int
	Headers    map[string]string
	Body       []byte
	Dropped    bool
}

// Dial opens a connection to the server.
func (c *Client) Dial() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.Timeout}
	if c.TLS != nil {
		return tls.DialWithDialer(dialer, "tcp", c.Addr, c.TLS)
	}
	return dialer.Dial("tcp", c.Addr)
}

// Do sends raw and reads until the server closes the connection.
func (c *Client) Do(raw string) (*Reply, error) {
	conn, err := c.Dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(raw)); err != nil {
		return nil, err
	}

	out, err := io.ReadAll(conn)
	if err != nil && len(out) == 0 {
		// A TLS peer that closes without close_notify still means "dropped".
		if isClosedError(err) {
			return &Reply{Dropped: true}, nil
		}
		return nil, err
	}
	return ParseReply(out)
}

// Get requests path with a minimal HTTP/1.1 request line.
func (c *Client) Get(path string) (*Reply, error) {
	return c.Do(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: localhost\r\n\r\n", path))
}

// Login posts a JSON login payload.
func (c *Client) Login(username, password string) (*Reply, error) {
	body := fmt.Sprintf(`{"username":%q,"pwd":%q}`, username, password)
	return c.Do("POST /login HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body)
}

// ParseReply splits a raw response into status line, headers and body.
func ParseReply(raw []byte) (*Reply, error) {
	if len(raw) == 0 {
		return &Reply{Dropped: true}, nil
	}

	head, body, ok := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !ok {
		return nil, fmt.Errorf("response has no header terminator: %q", raw)
	}

	lines := strings.Split(string(head), "\r\n")
	r := &Reply{StatusLine: lines[0], Headers: make(map[string]string), Body: body}

	fields := strings.SplitN(lines[0], " ", 3)
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed status line %q", lines[0])
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code in %q", lines[0])
	}
	r.Code = code

	for _, line := range lines[1:] {
		if key, value, ok := strings.Cut(line, ": "); ok {
			r.Headers[key] = value
		}
	}
	return r, nil
}

func isClosedError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "EOF")
}
