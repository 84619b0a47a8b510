package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	CmdPut         = "PUT"
	CmdGet         = "GET"
	CmdSize        = "SIZE"
	CmdHealth      = "HEALTH"
	StatusOK       = "OK"
	StatusError    = "ERROR"
	StatusHealthOK = "HEALTH_OK"

	// MaxLineLength bounds a single protocol line, terminator excluded.
	MaxLineLength = 4096

	// DefaultMaxPayload is the largest SIZE accepted when no limit is given.
	DefaultMaxPayload int64 = 64 << 20
)

var (
	ErrMalformedRequest = errors.New("protocol: malformed request")
	ErrLineTooLong      = errors.New("protocol: line too long")
	ErrInvalidSize      = errors.New("protocol: invalid size line")
	ErrInvalidLine      = errors.New("protocol: line contains a line break")
)

type RequestType int

const (
	RequestPut RequestType = iota + 1
	RequestGet
)

func (t RequestType) String() string {
	switch t {
	case RequestPut:
		return CmdPut
	case RequestGet:
		return CmdGet
	default:
		return "UNKNOWN"
	}
}

// Request is one parsed client request. Payload is only set for PUT.
type Request struct {
	Type     RequestType
	Filename string
	Size     int64
	Payload  []byte
}

// WriteLine writes line followed by '\n'.
func WriteLine(w io.Writer, line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return ErrInvalidLine
	}
	if len(line) > MaxLineLength {
		return ErrLineTooLong
	}

	_, err := io.WriteString(w, line+"\n")
	return err
}

// WriteError sends an ERROR status line carrying msg.
func WriteError(w io.Writer, msg string) error {
	return WriteLine(w, StatusError+" "+msg)
}

// WriteRequest sends req as it travels on the wire: the command line and,
// for PUT, the SIZE line and payload.
func WriteRequest(w io.Writer, req *Request) error {
	switch req.Type {
	case RequestPut:
		if err := WriteLine(w, CmdPut+" "+req.Filename); err != nil {
			return err
		}
		if err := WriteLine(w, FormatSize(int64(len(req.Payload)))); err != nil {
			return err
		}
		_, err := w.Write(req.Payload)
		return err
	case RequestGet:
		return WriteLine(w, CmdGet+" "+req.Filename)
	default:
		return fmt.Errorf("%w: unknown request type %d", ErrMalformedRequest, int(req.Type))
	}
}

// FormatSize renders a SIZE line for n bytes.
func FormatSize(n int64) string {
	return CmdSize + " " + strconv.FormatInt(n, 10)
}

// ParseSize parses a SIZE line and returns the declared byte count.
func ParseSize(line string) (int64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != CmdSize {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, line)
	}

	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, line)
	}

	return n, nil
}

// IsError reports whether a status line is an ERROR line.
func IsError(line string) bool {
	return line == StatusError || strings.HasPrefix(line, StatusError+" ")
}
