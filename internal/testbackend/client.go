package testbackend

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/angeloszaimis/storage-balancer/internal/protocol"
)

const clientTimeout = 5 * time.Second

// Exchange sends req to addr the way a client would and reads the reply.
func Exchange(addr string, req *protocol.Request) (*protocol.Response, error) {
	return protocol.Exchange(context.Background(), addr, req, clientTimeout)
}

// SendRaw writes raw bytes to addr and returns everything the peer sends
// back before closing the connection.
func SendRaw(addr, raw string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, clientTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(clientTimeout))

	if _, err := io.WriteString(conn, raw); err != nil {
		return "", err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	out, err := io.ReadAll(conn)
	return string(out), err
}
