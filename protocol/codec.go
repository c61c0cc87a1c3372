package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// MaxFrameSize bounds a single encoded envelope.
const MaxFrameSize = 1 << 20

var (
	// ErrConnClosed is returned for every transport failure: the peer is gone
	// or the stream can no longer be trusted.
	ErrConnClosed = errors.New("connection closed")
	// ErrMalformed is returned for a well-framed body that does not decode.
	// The stream stays usable.
	ErrMalformed     = errors.New("malformed envelope")
	ErrFrameTooLarge = errors.New("frame too large")
)

// Encoder writes length-prefixed JSON envelopes. It is not safe for
// concurrent use.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Operation, err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("encode %s: %w", env.Operation, ErrFrameTooLarge)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	if _, err := e.w.Write(frame); err != nil {
		return closed(err)
	}
	return nil
}

// Decoder reads length-prefixed JSON envelopes.
type Decoder struct {
	r      *bufio.Reader
	header [4]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) Decode() (Envelope, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return Envelope{}, closed(err)
	}

	size := binary.BigEndian.Uint32(d.header[:])
	if size > MaxFrameSize {
		// The rest of the stream cannot be resynchronised.
		return Envelope{}, fmt.Errorf("%w: %w (%d bytes)", ErrConnClosed, ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return Envelope{}, closed(err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return env, nil
}

func closed(err error) error {
	if errors.Is(err, ErrConnClosed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnClosed, err)
}

// IsOrderlyClose reports whether a transport error is an ordinary hang-up
// (EOF, closed socket) rather than a fault such as a reset or timeout.
func IsOrderlyClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// IsTimeout reports whether a transport error was caused by a deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsReset reports peer resets, broken pipes and aborted connections.
func IsReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
