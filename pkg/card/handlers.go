package card

import (
	"github.com/neo7530/systerfun/pkg/hostio"
	"github.com/neo7530/systerfun/pkg/systerdes"
)

func handleSetChannels(p *Processor, cmd Command) error {
	if err := p.write(hostio.NotReady); err != nil {
		return err
	}
	var ch [8]byte
	for i := 0; i < len(ch); i += 2 {
		b0, b1, err := p.readPair()
		if err != nil {
			return err
		}
		ch[i], ch[i+1] = b0, b1
		if err := p.write(hostio.NotReady); err != nil {
			return err
		}
	}
	if err := p.ks.SetChannels(ch); err != nil {
		p.log.Error().Err(err).Msg("failed to store channel table")
	}
	p.stats.Provisions.Add(1)
	p.log.Info().Hex("channels", ch[:]).Msg("channel table provisioned")

	if _, _, err := p.readPair(); err != nil {
		return err
	}
	return p.write(hostio.Idle)
}

func handleATR(p *Processor, cmd Command) error {
	r, ok := atrResponses[p.State().AtrIndex&0x0F]
	if !ok {
		return p.write(hostio.NotReady)
	}
	return p.respond(r)
}

func handleChannels(p *Processor, cmd Command) error {
	return p.respond(p.ks.ChannelResponse())
}

func handleCryptMode(p *Processor, cmd Command) error {
	if err := p.write(hostio.ModeAck); err != nil {
		return err
	}
	mode := cmd.low()
	p.setState(func(s *State) { s.CryptMode = mode })
	if err := p.ks.SetCryptMode(mode); err != nil {
		p.log.Error().Err(err).Msg("failed to store crypt mode")
	}
	p.log.Info().Uint8("crypt_mode", mode).Msg("crypt mode selected")
	return nil
}

func handleAtrIndex(p *Processor, cmd Command) error {
	if err := p.write(hostio.ModeAck); err != nil {
		return err
	}
	idx := cmd.low()
	p.setState(func(s *State) { s.AtrIndex = idx })
	if err := p.ks.SetAtrIndex(idx); err != nil {
		p.log.Error().Err(err).Msg("failed to store atr index")
	}
	p.log.Info().Uint8("atr_index", idx).Msg("atr index selected")
	return nil
}

func handleSetKey(p *Processor, cmd Command) error {
	if err := p.write(hostio.ModeAck); err != nil {
		return err
	}
	slot := int(cmd & 0x0F)
	var key [8]byte
	for i := 0; i < len(key); i += 2 {
		b0, b1, err := p.readPair()
		if err != nil {
			return err
		}
		key[i], key[i+1] = b0, b1
		if err := p.write(hostio.KeyAck); err != nil {
			return err
		}
	}
	if err := p.ks.SetKey(slot, key); err != nil {
		p.log.Error().Err(err).Int("slot", slot).Msg("failed to store key")
	}
	p.stats.Provisions.Add(1)
	p.log.Info().Int("slot", slot).Msg("key provisioned")
	return nil
}

func handleIdentify(p *Processor, cmd Command) error {
	return p.respond(identResponses[cmd.low()])
}

// handleRecords answers 5F00. The selector word picks an entitlement record
// (0, 1) or a fixed handshake (2, 3); other selectors end the command.
func handleRecords(p *Processor, cmd Command) error {
	if err := p.write(hostio.NotReady); err != nil {
		return err
	}
	sel, err := p.read()
	if err != nil {
		return err
	}
	if _, err := p.read(); err != nil {
		return err
	}

	switch sel {
	case 0, 1:
		if err := p.write(hostio.NotReady); err != nil {
			return err
		}
		rec, err := p.ks.Record(int(sel))
		if err != nil {
			p.log.Error().Err(err).Uint16("selector", uint16(sel)).Msg("failed to read record")
			return p.write(hostio.Failure)
		}
		words := []hostio.Word{hostio.BurstMark}
		for _, b := range rec[1:] {
			words = append(words, hostio.Data8(b))
		}
		p.queue(append(words, hostio.Idle)...)
		return nil
	case 2, 3:
		if err := p.write(hostio.NotReady); err != nil {
			return err
		}
		if _, _, err := p.readPair(); err != nil {
			return err
		}
		return p.write(hostio.Handshake)
	}
	return nil
}

func handleHandshake(p *Processor, cmd Command) error {
	if err := p.write(hostio.NotReady); err != nil {
		return err
	}
	if _, _, err := p.readPair(); err != nil {
		return err
	}
	if err := p.write(hostio.NotReady); err != nil {
		return err
	}
	if _, _, err := p.readPair(); err != nil {
		return err
	}
	return p.write(hostio.Handshake)
}

func handleDiscard(p *Processor, cmd Command) error {
	if err := p.write(hostio.NotReady); err != nil {
		return err
	}
	for i := 0; i < 32; i++ {
		if _, _, err := p.readPair(); err != nil {
			return err
		}
		if err := p.write(hostio.NotReady); err != nil {
			return err
		}
	}
	return nil
}

func handleDecrypt(p *Processor, cmd Command) error {
	if err := p.write(hostio.NotReady); err != nil {
		return err
	}
	var ecm [systerdes.ECMSize]byte
	for i := 0; i < len(ecm); i += 2 {
		b0, b1, err := p.readPair()
		if err != nil {
			return err
		}
		ecm[i], ecm[i+1] = b0, b1
		if err := p.write(hostio.NotReady); err != nil {
			return err
		}
	}

	out := Decrypt(p.ks, p.State(), cmd, ecm, p.onRound)
	p.stats.Decrypts.Add(1)
	p.mu.Lock()
	p.lastOut = &out
	p.mu.Unlock()

	if !out.OK {
		p.stats.DecryptFails.Add(1)
		p.log.Info().Stringer("cmd", cmd).Str("reason", out.Reason).
			Uint16("date", out.Date).Uint8("aux", out.Aux).Msg("decrypt rejected")
		p.queue(hostio.Failure)
		return nil
	}

	words := []hostio.Word{hostio.CWStart}
	for _, b := range out.CW {
		words = append(words, hostio.Data8(b))
	}
	p.queue(append(words, hostio.BurstMark)...)
	p.log.Debug().Stringer("cmd", cmd).Uint16("date", out.Date).Msg("control word ready")
	return nil
}

func handlePoll(p *Processor, cmd Command) error {
	return p.write(p.pop())
}
