package card

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Command is a 16-bit card command: the data byte of a framed word followed
// by the data byte of the next unframed word.
type Command uint16

const (
	CmdSetChannels  Command = 0x0100
	CmdSetChannels1 Command = 0x0101
	CmdATR          Command = 0x0200
	CmdChannels     Command = 0x0201
	CmdDiscard      Command = 0x0500
	CmdDiscard1     Command = 0x0501
	CmdRecords      Command = 0x5F00
	CmdPoll         Command = 0xFFFF
)

// Command families: 0x04nn crypt mode, 0x14nn ATR index, 0x24nn key slot,
// 0x57nn identification, 0x06nn decrypt.
const (
	familyCryptMode = 0x04
	familyAtrIndex  = 0x14
	familySetKey    = 0x24
	familyIdent     = 0x57
	familyDecrypt   = 0x06
)

func (c Command) family() byte { return byte(c >> 8) }
func (c Command) low() byte    { return byte(c) }

// String returns a human-readable name for the command
func (c Command) String() string {
	var name string
	switch {
	case c == CmdSetChannels || c == CmdSetChannels1:
		name = "SetChannels"
	case c == CmdATR:
		name = "ATR"
	case c == CmdChannels:
		name = "Channels"
	case c.family() == familyCryptMode:
		name = "SetCryptMode"
	case c.family() == familyAtrIndex:
		name = "SetAtrIndex"
	case c.family() == familySetKey:
		name = "SetKey"
	case c.family() == familyIdent:
		name = "Identify"
	case c == CmdRecords:
		name = "Records"
	case c.family() == 0x5E || c == 0x5F01 || c == 0x5F02:
		name = "Handshake"
	case c == CmdDiscard || c == CmdDiscard1:
		name = "Discard"
	case c.family() == familyDecrypt:
		name = "Decrypt"
	case c == CmdPoll:
		name = "Poll"
	default:
		name = "Unknown"
	}
	return fmt.Sprintf("%s(%04X)", name, uint16(c))
}

// ParseCommand parses a command written as four hex digits, e.g. "0620".
func ParseCommand(s string) (Command, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil || len(s) != 4 {
		return 0, fmt.Errorf("card: invalid command %q", s)
	}
	return Command(v), nil
}

// IsDecrypt reports whether c is a recognised decrypt command.
func (c Command) IsDecrypt() bool {
	_, ok := defaultHandlers[c]
	return ok && c.family() == familyDecrypt
}

// Handler runs one command to completion. It returns only transport errors;
// protocol level failures are answered with reserved words.
type Handler func(p *Processor, cmd Command) error

// HandlerMap dispatches commands by exact code.
type HandlerMap map[Command]Handler

func (hm HandlerMap) register(h Handler, cmds ...Command) {
	for _, c := range cmds {
		hm[c] = h
	}
}

func span(family byte, lows ...byte) []Command {
	out := make([]Command, len(lows))
	for i, l := range lows {
		out[i] = Command(family)<<8 | Command(l)
	}
	return out
}

func seq(family, from, to byte) []Command {
	var lows []byte
	for l := int(from); l <= int(to); l++ {
		lows = append(lows, byte(l))
	}
	return span(family, lows...)
}

// defaultHandlers is the card's command table. Codes missing from it get
// the not-ready word.
var defaultHandlers = func() HandlerMap {
	hm := make(HandlerMap)
	hm.register(handleSetChannels, CmdSetChannels, CmdSetChannels1)
	hm.register(handleATR, CmdATR)
	hm.register(handleChannels, CmdChannels)
	hm.register(handleCryptMode, seq(familyCryptMode, 0x00, 0x02)...)
	hm.register(handleAtrIndex, span(familyAtrIndex, 0x00, 0x01, 0x02, 0x10, 0x11, 0x12)...)
	hm.register(handleSetKey, seq(familySetKey, 0x00, 0x0F)...)
	hm.register(handleIdentify, seq(familyIdent, 0x00, 0x02)...)
	hm.register(handleRecords, CmdRecords)
	hm.register(handleHandshake, 0x5E00, 0x5E01, 0x5E02, 0x5F01, 0x5F02)
	hm.register(handleDiscard, CmdDiscard, CmdDiscard1)
	hm.register(handleDecrypt, span(familyDecrypt, 0x00, 0x01, 0x02, 0x11, 0x20, 0x21, 0x22)...)
	hm.register(handlePoll, CmdPoll)
	return hm
}()

// Commands lists the recognised command codes.
func Commands() []Command {
	out := make([]Command, 0, len(defaultHandlers))
	for c := range defaultHandlers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
