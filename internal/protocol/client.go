package protocol

import (
	"context"
	"net"
	"time"
)

// Response is the reply a client observed for one request. Payload is only
// set for a successful GET.
type Response struct {
	Status  string
	Payload []byte
}

// OK reports whether the peer answered with a plain OK status.
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

// Exchange dials addr, sends req and reads the full reply. timeout bounds
// the whole exchange; zero means no deadline beyond ctx.
func Exchange(ctx context.Context, addr string, req *Request, timeout time.Duration) (*Response, error) {
	var dialer net.Dialer
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteRequest(conn, req); err != nil {
		return nil, err
	}

	r := NewReader(conn)
	status, err := r.ReadLine()
	if err != nil {
		return nil, err
	}

	resp := &Response{Status: status}
	if req.Type != RequestGet || status != StatusOK {
		return resp, nil
	}

	n, err := r.ReadSize()
	if err != nil {
		return nil, err
	}
	if resp.Payload, err = r.ReadPayload(n); err != nil {
		return nil, err
	}
	return resp, nil
}
