// Package management serves line commands over a Unix socket so a running
// daemon can be inspected with "systerfun ctl".
package management

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neo7530/systerfun/pkg/appdir"
	"github.com/neo7530/systerfun/pkg/log"
)

const (
	pongString    = "OK: pong"
	okAuthString  = "OK: authenticated"
	nokAuthString = "NOK: authentication failed"

	// endOfMessage terminates every response so responses may span lines.
	endOfMessage = "."

	defaultLogLines = 20
	idleTimeout     = 30 * time.Second
	authDelay       = 2 * time.Second
)

// SocketPath is where the daemon named app listens.
func SocketPath(app string) string {
	return appdir.Path(app + ".sock")
}

// CommandHandler receives the command arguments and returns the response.
type CommandHandler func(args []string) (string, error)

type CommandInfo struct {
	Handler     CommandHandler
	Description string
}

type ManagementServer struct {
	socketPath string
	password   string
	startTime  time.Time
	listener   net.Listener

	mu       sync.RWMutex
	handlers map[string]CommandInfo

	quit chan struct{}
	wg   sync.WaitGroup

	// authDelay slows down password guessing.
	authDelay time.Duration
}

func NewManagementServer(socketPath, password string) *ManagementServer {
	s := &ManagementServer{
		socketPath: socketPath,
		password:   password,
		startTime:  time.Now(),
		handlers:   make(map[string]CommandInfo),
		quit:       make(chan struct{}),
		authDelay:  authDelay,
	}
	s.RegisterHandler("status", "Show daemon status and uptime", s.handleStatus)
	s.RegisterHandler("ping", "Check that the management interface answers", s.handlePing)
	s.RegisterHandler("logs", "Show recent log entries. Usage: logs [n|all] [pretty]", s.handleLogs)
	s.RegisterHandler("help", "Show help for commands. Usage: help [command]", s.handleHelp)
	s.RegisterHandler("list", "Alias for 'help'", s.handleHelp)
	return s
}

// RegisterHandler adds or replaces a command. Command names are
// case-insensitive.
func (s *ManagementServer) RegisterHandler(command, description string, handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.ToLower(command)
	if _, exists := s.handlers[name]; exists {
		log.Warn().Str("command", name).Msg("mgmt: overwriting handler")
	}
	s.handlers[name] = CommandInfo{Handler: handler, Description: description}
	log.Debug().Str("command", name).Msg("mgmt: registered handler")
}

// Start listens on the socket, replacing a stale socket file.
func (s *ManagementServer) Start() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			log.Warn().Err(err).Str("socket", s.socketPath).Msg("mgmt: failed to remove stale socket")
		}
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("mgmt: listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		log.Warn().Err(err).Msg("mgmt: could not set socket permissions")
	}
	s.listener = ln
	log.Info().Str("socket", s.socketPath).Msg("mgmt: listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, waits for open connections and removes the
// socket file.
func (s *ManagementServer) Stop() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("mgmt: failed to remove socket")
	}
	log.Info().Msg("mgmt: stopped")
}

func (s *ManagementServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("mgmt: accept")
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *ManagementServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	if s.password != "" {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		pass, err := reader.ReadString('\n')
		if err != nil || strings.TrimSpace(pass) != s.password {
			log.Warn().Msg("mgmt: authentication failed")
			time.Sleep(s.authDelay)
			sendMessage(writer, nokAuthString)
			return
		}
		if err := sendMessage(writer, okAuthString); err != nil {
			return
		}
	}

	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Msg("mgmt: read")
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" {
			sendMessage(writer, "OK: Bye!")
			return
		}
		if err := sendMessage(writer, s.dispatch(line)); err != nil {
			log.Debug().Err(err).Msg("mgmt: write")
			return
		}
	}
}

// dispatch runs one command line and returns the response text.
func (s *ManagementServer) dispatch(line string) string {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	s.mu.RLock()
	info, ok := s.handlers[command]
	s.mu.RUnlock()
	if !ok {
		log.Debug().Str("command", command).Msg("mgmt: unknown command")
		return fmt.Sprintf("Error: Unknown command '%s'. Try 'help'.", command)
	}
	res, err := info.Handler(parts[1:])
	if err != nil {
		return fmt.Sprintf("Error: %s: %v", command, err)
	}
	return res
}

// sendMessage writes msg followed by the end-of-message line. Lines of msg
// equal to the marker are escaped by doubling it.
func sendMessage(w *bufio.Writer, msg string) error {
	for _, l := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		if strings.HasPrefix(l, endOfMessage) {
			l = endOfMessage + l
		}
		if _, err := w.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	if _, err := w.WriteString(endOfMessage + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

func recvMessage(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			return b.String(), err
		}
		l = strings.TrimRight(l, "\r\n")
		if l == endOfMessage {
			return strings.TrimRight(b.String(), "\n"), nil
		}
		b.WriteString(strings.TrimPrefix(l, endOfMessage))
		b.WriteByte('\n')
	}
}

func (s *ManagementServer) handleStatus(args []string) (string, error) {
	uptime := time.Since(s.startTime).Round(time.Second)
	return fmt.Sprintf("OK: Daemon running. Uptime: %s", uptime), nil
}

func (s *ManagementServer) handlePing(args []string) (string, error) {
	return pongString, nil
}

func (s *ManagementServer) handleLogs(args []string) (string, error) {
	n := defaultLogLines
	pretty, all := false, false
	for _, a := range args {
		switch a {
		case "pretty":
			pretty = true
			continue
		case "all":
			all = true
			continue
		}
		v, err := strconv.Atoi(a)
		if err != nil || v <= 0 {
			return "", fmt.Errorf("invalid line count %q", a)
		}
		n = v
	}

	var (
		entries []log.LogEntry
		err     error
	)
	if all {
		entries, err = log.GetLogsSinceStart()
	} else {
		entries, err = log.GetLastNLogs(n)
	}
	if err != nil {
		return "", err
	}
	var raw bytes.Buffer
	for _, e := range entries {
		raw.WriteString(strings.TrimRight(e.LogData, "\n"))
		raw.WriteByte('\n')
	}
	if !pretty {
		return strings.TrimRight(raw.String(), "\n"), nil
	}

	var out bytes.Buffer
	cw := zerolog.ConsoleWriter{Out: &out, TimeFormat: time.RFC3339, NoColor: true}
	sc := bufio.NewScanner(&raw)
	for sc.Scan() {
		if _, err := cw.Write(sc.Bytes()); err != nil {
			out.Write(sc.Bytes())
			out.WriteByte('\n')
		}
	}
	return strings.TrimRight(out.String(), "\n"), sc.Err()
}

func (s *ManagementServer) handleHelp(args []string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	if len(args) > 0 {
		name := strings.ToLower(args[0])
		info, ok := s.handlers[name]
		if !ok {
			return fmt.Sprintf("Error: Unknown command '%s'. Try 'help' for a list.", name), nil
		}
		fmt.Fprintf(&b, "OK: Help for '%s':\n", name)
		fmt.Fprintf(&b, "  Description: %s", info.Description)
		return b.String(), nil
	}

	cmds := make([]string, 0, len(s.handlers))
	maxLen := 0
	for c := range s.handlers {
		cmds = append(cmds, c)
		maxLen = max(maxLen, len(c))
	}
	sort.Strings(cmds)

	b.WriteString("OK: Available commands:\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "  %s%s%s\n", c, strings.Repeat(" ", maxLen-len(c)+2), s.handlers[c].Description)
	}
	b.WriteString("\nUse 'help <command>' for more details on a specific command.")
	return b.String(), nil
}
