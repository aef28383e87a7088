package card

import (
	"github.com/neo7530/systerfun/pkg/keystore"
	"github.com/neo7530/systerfun/pkg/systerdes"
	"github.com/neo7530/systerfun/pkg/xtea"
)

// Cipher selectors stored as the crypt mode.
const (
	ModePrimary       = 0x00
	ModeAlternate     = 0x01
	ModeAlternateSig  = 0x02
	validatingProfile = 0x10
)

// State is the working copy of the persisted selectors a session decrypts
// with. It is loaded once when the session starts.
type State struct {
	CryptMode byte
	AtrIndex  byte
	MinDate   uint16
	MaxDate   uint16
}

func LoadState(ks *keystore.KeyStore) State {
	minDate, maxDate := ks.DateWindow()
	return State{
		CryptMode: ks.CryptMode(),
		AtrIndex:  ks.AtrIndex(),
		MinDate:   minDate,
		MaxDate:   maxDate,
	}
}

// Validating reports whether decrypted dates and audiences are checked.
func (s State) Validating() bool { return s.AtrIndex&0xF0 == validatingProfile }

// Outcome is the result of one decrypt command.
type Outcome struct {
	CW     [systerdes.CWSize]byte
	Aux    byte
	Date   uint16
	OK     bool
	Reason string `json:",omitempty"`
}

// Decrypt runs the decrypt command cmd over ecm. onRound, if set, observes
// the alternate cipher's rounds.
func Decrypt(ks *keystore.KeyStore, st State, cmd Command, ecm [systerdes.ECMSize]byte, onRound func(int)) Outcome {
	keyIndex := int(cmd&0xF0) >> 5
	aud := cmd.low()

	if st.CryptMode != ModePrimary {
		c := xtea.Cipher{Key: ks.XTEAKey(keyIndex), OnRound: onRound}
		cw, ok := c.Decrypt(ecm, st.CryptMode == ModeAlternateSig)
		out := Outcome{CW: cw, OK: ok}
		if !ok {
			out.Reason = "signature mismatch"
		}
		return out
	}

	key, err := ks.PrimaryKey(keyIndex, aud, st.AtrIndex)
	if err != nil {
		return Outcome{Reason: err.Error()}
	}
	res := systerdes.Decrypt(key, ecm)
	out := Outcome{CW: res.CW, Aux: res.Aux, Date: res.Date, OK: true}

	if st.Validating() && aud != keystore.SpecialAudience {
		switch {
		case res.Date < st.MinDate || res.Date > st.MaxDate:
			out.OK, out.Reason = false, "date out of window"
		case res.Aux != aud:
			out.OK, out.Reason = false, "audience mismatch"
		}
	}
	return out
}
