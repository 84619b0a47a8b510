package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Reader reads protocol lines and payloads from a buffered stream. Lines and
// payload bytes must be read through the same Reader because the buffer may
// already hold payload that follows a SIZE line.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, MaxLineLength+2)}
}

// ReadLine returns the next line without its terminator. A trailing '\r' is
// dropped. io.EOF is returned only when the stream ends cleanly between lines.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF):
		if len(line) == 0 {
			return "", io.EOF
		}
		return "", io.ErrUnexpectedEOF
	case err != nil:
		return "", err
	}

	s := strings.TrimSuffix(string(line[:len(line)-1]), "\r")
	if len(s) > MaxLineLength {
		return "", ErrLineTooLong
	}
	return s, nil
}

// ReadSize reads a SIZE line and returns its byte count.
func (r *Reader) ReadSize() (int64, error) {
	line, err := r.ReadLine()
	if err != nil {
		return 0, err
	}
	return ParseSize(line)
}

// ReadPayload reads exactly n payload bytes.
func (r *Reader) ReadPayload(n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// CopyPayload streams exactly n payload bytes to w.
func (r *Reader) CopyPayload(w io.Writer, n int64) (int64, error) {
	written, err := io.CopyN(w, r.br, n)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return written, err
}

// ReadRequest parses one client request. PUT payloads larger than
// maxPayload are rejected; maxPayload <= 0 selects DefaultMaxPayload.
// Every parse failure wraps ErrMalformedRequest.
func (r *Reader) ReadRequest(maxPayload int64) (*Request, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	req, err := ParseRequestLine(line)
	if err != nil {
		return nil, err
	}

	if req.Type == RequestPut {
		if err := r.ReadPutBody(req, maxPayload); err != nil {
			return nil, err
		}
	}

	return req, nil
}

// ReadPutBody reads the SIZE line and payload that follow a PUT line.
func (r *Reader) ReadPutBody(req *Request, maxPayload int64) error {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	size, err := r.ReadSize()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if size > maxPayload {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMalformedRequest, size, maxPayload)
	}

	payload, err := r.ReadPayload(size)
	if err != nil {
		return fmt.Errorf("%w: payload: %w", ErrMalformedRequest, err)
	}

	req.Size = size
	req.Payload = payload
	return nil
}

// ParseRequestLine parses a "PUT <filename>" or "GET <filename>" line.
func ParseRequestLine(line string) (*Request, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
	}

	req := &Request{Filename: fields[1]}

	switch fields[0] {
	case CmdGet:
		req.Type = RequestGet
	case CmdPut:
		req.Type = RequestPut
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrMalformedRequest, fields[0])
	}

	return req, nil
}
