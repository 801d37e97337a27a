package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
)

// Client speaks the request/reply protocol over a dialed connection. It is
// not safe for concurrent use; the protocol allows one request in flight.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func NewClient(conn net.Conn) *Client {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxLineSize)
	return &Client{conn: conn, scanner: sc}
}

// Do sends one request line and waits for its reply.
func (c *Client) Do(request string) (string, error) {
	if _, err := io.WriteString(c.conn, request+"\n"); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", fmt.Errorf("read reply: %w", err)
		}
		return "", ErrPeerDisconnected
	}
	return strings.TrimSuffix(c.scanner.Text(), "\r"), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
