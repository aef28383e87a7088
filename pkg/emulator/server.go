// Package emulator runs the card: it serves card sessions on the configured
// host links and exposes the shared card state over HTTP and the
// management socket.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/neo7530/systerfun/pkg/card"
	"github.com/neo7530/systerfun/pkg/config"
	"github.com/neo7530/systerfun/pkg/eeprom"
	"github.com/neo7530/systerfun/pkg/hostio"
	"github.com/neo7530/systerfun/pkg/keystore"
	"github.com/neo7530/systerfun/pkg/log"
	"github.com/neo7530/systerfun/pkg/management"
)

// shutdownGrace bounds how long a session may finish its current command
// after the server is cancelled.
const shutdownGrace = 2 * time.Second

// SerialOpener opens the serial host link. Tests replace it.
type SerialOpener func(port string, baud int, timeout time.Duration) (hostio.Channel, error)

func openSerial(port string, baud int, timeout time.Duration) (hostio.Channel, error) {
	return hostio.OpenSerial(port, baud, timeout)
}

type Server struct {
	cfg      *config.Config
	store    eeprom.Store
	ks       *keystore.KeyStore
	sessions *card.Registry
	started  time.Time

	openSerial SerialOpener
	mgmt       *management.ManagementServer
	api        *echo.Echo

	lnMu sync.Mutex
	ln   net.Listener
}

type Option func(*Server)

// WithManagement serves management commands on socketPath.
func WithManagement(socketPath string) Option {
	return func(s *Server) {
		s.mgmt = management.NewManagementServer(socketPath, s.cfg.ManagementPassword)
	}
}

func WithSerialOpener(fn SerialOpener) Option {
	return func(s *Server) { s.openSerial = fn }
}

// New opens the key store on store, formatting it with factory values if it
// is blank.
func New(cfg *config.Config, store eeprom.Store, opts ...Option) (*Server, error) {
	ks, err := keystore.Open(store)
	if err != nil {
		return nil, fmt.Errorf("emulator: %w", err)
	}
	s := &Server{
		cfg:        cfg,
		store:      store,
		ks:         ks,
		sessions:   card.NewRegistry(),
		started:    time.Now(),
		openSerial: openSerial,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.api = newAPI(s)
	if s.mgmt != nil {
		s.registerManagementHandlers()
	}
	return s, nil
}

func (s *Server) KeyStore() *keystore.KeyStore { return s.ks }
func (s *Server) Sessions() *card.Registry      { return s.sessions }

// Handler returns the HTTP API.
func (s *Server) Handler() *echo.Echo { return s.api }

// Listen binds the TCP host listener, if one is configured. Run calls it
// when it has not been called yet.
func (s *Server) Listen() error {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln != nil || s.cfg.ListenAddress == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("emulator: listen %s: %w", s.cfg.ListenAddress, err)
	}
	s.ln = ln
	return nil
}

// Addr is the bound TCP host address, or nil.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run serves until ctx is cancelled or a link fails. Open sessions are
// closed on the way out.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	if s.mgmt != nil {
		if err := s.mgmt.Start(); err != nil {
			return err
		}
		defer s.mgmt.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.SerialPort != "" {
		g.Go(func() error { return s.serveSerial(ctx) })
	}
	if s.ln != nil {
		g.Go(func() error { return s.serveTCP(ctx) })
	}
	if s.cfg.APIListenAddress != "" {
		g.Go(func() error { return s.serveAPI(ctx) })
	}

	log.Info().
		Str("serial", s.cfg.SerialPort).
		Str("tcp", s.cfg.ListenAddress).
		Str("api", s.cfg.APIListenAddress).
		Msg("emulator: running")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveSession runs one card session until the channel closes or ctx ends.
func (s *Server) serveSession(ctx context.Context, ch hostio.Channel, source string) error {
	p := card.New(ch, s.ks, card.WithSource(source))
	s.sessions.Add(p)
	defer s.sessions.Remove(p)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.CloseWhenIdle(shutdownGrace)
		case <-done:
		}
	}()

	l := log.With().Str("session", p.ID.String()).Str("source", source).Logger()
	l.Info().Msg("session started")
	err := p.Run(ctx)
	ch.Close()
	st := p.Stats()
	l.Info().
		Uint64("commands", st.Commands.Load()).
		Uint64("decrypts", st.Decrypts.Load()).
		Uint64("decrypt_fails", st.DecryptFails.Load()).
		Msg("session ended")
	if errors.Is(err, card.ErrStopped) {
		return nil
	}
	return err
}

func (s *Server) serveSerial(ctx context.Context) error {
	ch, err := s.openSerial(s.cfg.SerialPort, s.cfg.BaudRate, s.cfg.ReadTimeout)
	if err != nil {
		return err
	}
	return s.serveSession(ctx, ch, "serial:"+s.cfg.SerialPort)
}

func (s *Server) serveTCP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("emulator: accept")
			time.Sleep(100 * time.Millisecond)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := hostio.NewStream(conn, s.cfg.ReadTimeout)
			if err := s.serveSession(ctx, ch, "tcp:"+conn.RemoteAddr().String()); err != nil {
				log.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("session failed")
			}
		}()
	}
}

func (s *Server) serveAPI(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.api.Start(s.cfg.APIListenAddress) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("emulator: api: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.api.Shutdown(sctx)
	}
}
