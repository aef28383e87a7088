// Package card is the card's command processor. A Processor owns one host
// channel and runs commands against it one at a time; several processors
// may share a KeyStore.
package card

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neo7530/systerfun/pkg/hostio"
	"github.com/neo7530/systerfun/pkg/keystore"
	"github.com/neo7530/systerfun/pkg/log"
	"github.com/neo7530/systerfun/pkg/ringbuf"
)

var ErrStopped = errors.New("card: processor stopped")

// Stats holds per-session counters.
type Stats struct {
	Commands       atomic.Uint64
	Unknown        atomic.Uint64
	Decrypts       atomic.Uint64
	DecryptFails   atomic.Uint64
	Provisions     atomic.Uint64
	BufferOverruns atomic.Uint64
}

type Processor struct {
	ID      uuid.UUID
	Source  string
	Started time.Time

	ch       hostio.Channel
	ks       *keystore.KeyStore
	handlers HandlerMap
	out      ringbuf.Buffer
	onRound  func(int)
	log      zerolog.Logger

	exec sync.Mutex // held while a command runs

	mu      sync.RWMutex
	state   State
	lastCmd Command
	lastOut *Outcome

	stats Stats
}

type Option func(*Processor)

// WithSource labels the session, typically with the peer address.
func WithSource(src string) Option { return func(p *Processor) { p.Source = src } }

// WithLogger replaces the session logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Processor) { p.log = l } }

// WithRoundObserver is passed to the alternate cipher on every decrypt.
func WithRoundObserver(fn func(int)) Option { return func(p *Processor) { p.onRound = fn } }

// New starts a session over ch. Mode selectors and the date window are read
// from ks now and later changed only by this session's own commands.
func New(ch hostio.Channel, ks *keystore.KeyStore, opts ...Option) *Processor {
	p := &Processor{
		ID:       uuid.New(),
		Started:  time.Now(),
		ch:       ch,
		ks:       ks,
		handlers: defaultHandlers,
		state:    LoadState(ks),
	}
	p.log = log.With().Str("session", p.ID.String()).Logger()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run samples the channel for command boundaries and executes each command
// to completion. A framed word followed by an unframed word forms a command.
// Cancellation is honoured only between commands; Run then returns an error
// wrapping ErrStopped. A closed channel ends Run with a nil error.
func (p *Processor) Run(ctx context.Context) error {
	var a, b hostio.Word
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrStopped, err)
		}
		w, err := p.ch.ReadWord()
		if err != nil {
			switch {
			case errors.Is(err, hostio.ErrTimeout):
				continue
			case errors.Is(err, hostio.ErrClosed):
				return nil
			}
			return err
		}
		a, b = b, w
		if a.Framed() && !b.Framed() {
			cmd := Command(uint16(a.Data())<<8 | uint16(b.Data()))
			if err := p.Execute(cmd); err != nil {
				if errors.Is(err, hostio.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// Execute runs a single command.
func (p *Processor) Execute(cmd Command) error {
	p.exec.Lock()
	defer p.exec.Unlock()

	p.stats.Commands.Add(1)
	p.mu.Lock()
	p.lastCmd = cmd
	p.mu.Unlock()

	h, ok := p.handlers[cmd]
	if !ok {
		p.stats.Unknown.Add(1)
		p.log.Debug().Stringer("cmd", cmd).Msg("unknown command")
		return p.write(hostio.NotReady)
	}
	if cmd != CmdPoll {
		p.log.Debug().Stringer("cmd", cmd).Msg("command")
	}
	return h(p, cmd)
}

// read blocks for the next payload word. Timeouts are retried so a command
// is never abandoned halfway.
func (p *Processor) read() (hostio.Word, error) {
	for {
		w, err := p.ch.ReadWord()
		if errors.Is(err, hostio.ErrTimeout) {
			continue
		}
		return w, err
	}
}

// readPair reads two payload words and returns their data bytes.
func (p *Processor) readPair() (byte, byte, error) {
	w0, err := p.read()
	if err != nil {
		return 0, 0, err
	}
	w1, err := p.read()
	if err != nil {
		return 0, 0, err
	}
	return w0.Data(), w1.Data(), nil
}

func (p *Processor) write(w hostio.Word) error { return p.ch.WriteWord(w) }

// queue replaces the buffered response with words.
func (p *Processor) queue(words ...hostio.Word) {
	raw := make([]uint16, len(words))
	for i, w := range words {
		raw[i] = uint16(w)
	}
	p.mu.Lock()
	err := p.out.Load(raw...)
	p.mu.Unlock()
	if err != nil {
		p.stats.BufferOverruns.Add(1)
		p.log.Error().Err(err).Msg("response dropped")
	}
}

// respond answers byte 0 of r directly and buffers bytes 1..10 as a burst.
func (p *Processor) respond(r [11]byte) error {
	p.mu.Lock()
	err := p.out.Burst(r[1:])
	p.mu.Unlock()
	if err != nil {
		p.stats.BufferOverruns.Add(1)
		p.log.Error().Err(err).Msg("response dropped")
	}
	return p.write(hostio.Framed8(r[0]))
}

// pop drains one buffered word, or the idle word when nothing is pending.
func (p *Processor) pop() hostio.Word {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.out.Pop()
	if !ok {
		return hostio.Idle
	}
	return hostio.Word(w)
}

// State returns the session's working selectors.
func (p *Processor) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Processor) setState(fn func(*State)) {
	p.mu.Lock()
	fn(&p.state)
	p.mu.Unlock()
}

const idlePoll = 10 * time.Millisecond

// CloseWhenIdle closes the channel once no command is executing. If a
// command is still running after grace the channel is closed anyway and
// that command ends with hostio.ErrClosed. It reports whether the close
// happened between commands.
func (p *Processor) CloseWhenIdle(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if p.exec.TryLock() {
			p.ch.Close()
			p.exec.Unlock()
			return true
		}
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(idlePoll)
	}
	p.log.Warn().Stringer("cmd", p.lastCommand()).Dur("grace", grace).Msg("closing channel mid-command")
	p.ch.Close()
	return false
}

func (p *Processor) lastCommand() Command {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCmd
}

func (p *Processor) Stats() *Stats { return &p.stats }

// Info is a point-in-time view of a session.
type Info struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Started      time.Time `json:"started"`
	CryptMode    byte      `json:"crypt_mode"`
	AtrIndex     byte      `json:"atr_index"`
	LastCommand  string    `json:"last_command,omitempty"`
	LastDecrypt  *Outcome  `json:"last_decrypt,omitempty"`
	Commands     uint64    `json:"commands"`
	Decrypts     uint64    `json:"decrypts"`
	DecryptFails uint64    `json:"decrypt_fails"`
	Unknown      uint64    `json:"unknown"`
	Pending      []uint16  `json:"pending,omitempty"`
}

func (p *Processor) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := Info{
		ID:           p.ID.String(),
		Source:       p.Source,
		Started:      p.Started,
		CryptMode:    p.state.CryptMode,
		AtrIndex:     p.state.AtrIndex,
		LastDecrypt:  p.lastOut,
		Commands:     p.stats.Commands.Load(),
		Decrypts:     p.stats.Decrypts.Load(),
		DecryptFails: p.stats.DecryptFails.Load(),
		Unknown:      p.stats.Unknown.Load(),
		Pending:      p.out.Snapshot(),
	}
	if p.stats.Commands.Load() > 0 {
		info.LastCommand = p.lastCmd.String()
	}
	return info
}
