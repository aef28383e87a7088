package emulator

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func (s *Server) registerManagementHandlers() {
	s.mgmt.RegisterHandler("mode", "Show the persisted crypt mode and ATR index", s.handleMode)
	s.mgmt.RegisterHandler("channels", "Show the channel table", s.handleChannels)
	s.mgmt.RegisterHandler("sessions", "List open card sessions", s.handleSessions)
}

func (s *Server) handleMode(args []string) (string, error) {
	res := (&CardApi{Server: s}).status()
	return fmt.Sprintf("OK: crypt_mode=%02X atr_index=%02X validating=%t window=%04X..%04X",
		res.CryptMode, res.AtrIndex, res.Validating, res.MinDate, res.MaxDate), nil
}

func (s *Server) handleChannels(args []string) (string, error) {
	ch := s.ks.Channels()
	return "OK: " + hex.EncodeToString(ch[:]), nil
}

func (s *Server) handleSessions(args []string) (string, error) {
	infos := s.sessions.List()
	if len(infos) == 0 {
		return "OK: no sessions", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "OK: %d session(s)\n", len(infos))
	for _, in := range infos {
		last := in.LastCommand
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(&b, "  %s  %-24s  up %-8s  cmds=%d decrypts=%d fails=%d pending=%d last=%s\n",
			in.ID, in.Source, time.Since(in.Started).Round(time.Second),
			in.Commands, in.Decrypts, in.DecryptFails, len(in.Pending), last)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
