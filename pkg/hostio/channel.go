package hostio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var (
	ErrClosed  = errors.New("hostio: channel closed")
	ErrTimeout = errors.New("hostio: read timeout")
)

// Channel is a blocking, half-duplex word transport.
type Channel interface {
	ReadWord() (Word, error)
	WriteWord(w Word) error
	Close() error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Stream frames words as two bytes, high byte first, over a byte link. A
// read with no byte within the timeout returns ErrTimeout; a word that
// has started arriving is always completed.
type Stream struct {
	rw      io.ReadWriteCloser
	timeout time.Duration

	wmu    sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// NewStream wraps rw. A zero timeout blocks forever. Links that signal a
// timeout with an empty read, such as serial ports, must be configured with
// the same timeout by the caller.
func NewStream(rw io.ReadWriteCloser, timeout time.Duration) *Stream {
	return &Stream{rw: rw, timeout: timeout, closed: make(chan struct{})}
}

func (s *Stream) ReadWord() (Word, error) {
	var buf [2]byte
	n := 0
	for n < len(buf) {
		if d, ok := s.rw.(readDeadliner); ok && s.timeout > 0 {
			_ = d.SetReadDeadline(time.Now().Add(s.timeout))
		}
		m, err := s.rw.Read(buf[n:])
		n += m
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if n == 0 {
					return 0, ErrTimeout
				}
				continue
			}
			if s.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return 0, ErrClosed
			}
			return 0, fmt.Errorf("hostio: read: %w", err)
		}
		if m == 0 {
			if s.isClosed() {
				return 0, ErrClosed
			}
			if n == 0 && s.timeout > 0 {
				return 0, ErrTimeout
			}
		}
	}
	return (Word(buf[0])<<8 | Word(buf[1])) & wordMask, nil
}

func (s *Stream) WriteWord(w Word) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	w &= wordMask
	if _, err := s.rw.Write([]byte{byte(w >> 8), byte(w)}); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return ErrClosed
		}
		return fmt.Errorf("hostio: write %s: %w", w, err)
	}
	return nil
}

func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.rw.Close()
	})
	return err
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
