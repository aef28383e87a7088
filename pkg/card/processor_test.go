package card

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neo7530/systerfun/pkg/eeprom"
	"github.com/neo7530/systerfun/pkg/hostio"
	"github.com/neo7530/systerfun/pkg/keystore"
	"github.com/neo7530/systerfun/pkg/xtea"
)

// timeoutMark is fed to make the scripted host report a read timeout.
const timeoutMark hostio.Word = 0xFFFF

// hostScript plays the decoder: ReadWord returns fed words in order and
// reports a closed channel once they run out.
type hostScript struct {
	in  []hostio.Word
	out []hostio.Word
}

func (h *hostScript) ReadWord() (hostio.Word, error) {
	if len(h.in) == 0 {
		return 0, hostio.ErrClosed
	}
	w := h.in[0]
	h.in = h.in[1:]
	if w == timeoutMark {
		return 0, hostio.ErrTimeout
	}
	return w, nil
}

func (h *hostScript) WriteWord(w hostio.Word) error {
	h.out = append(h.out, w)
	return nil
}

func (h *hostScript) Close() error { return nil }

func (h *hostScript) feed(ws ...hostio.Word) { h.in = append(h.in, ws...) }

func (h *hostScript) take() []hostio.Word {
	out := h.out
	h.out = nil
	return out
}

type rig struct {
	t    *testing.T
	p    *Processor
	host *hostScript
	ks   *keystore.KeyStore
	mem  *eeprom.Memory
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	mem := eeprom.NewMemory(eeprom.DefaultSize)
	ks, err := keystore.Open(mem)
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	host := &hostScript{}
	return &rig{t: t, p: New(host, ks, opts...), host: host, ks: ks, mem: mem}
}

// exec runs cmd with payload queued and returns the words the card wrote.
func (r *rig) exec(cmd Command, payload ...hostio.Word) []hostio.Word {
	r.t.Helper()
	r.host.feed(payload...)
	if err := r.p.Execute(cmd); err != nil {
		r.t.Fatalf("%s: %v", cmd, err)
	}
	if len(r.host.in) != 0 {
		r.t.Fatalf("%s left %d payload words unread", cmd, len(r.host.in))
	}
	return r.host.take()
}

func (r *rig) drain(n int) []hostio.Word {
	r.t.Helper()
	var out []hostio.Word
	for i := 0; i < n; i++ {
		out = append(out, r.exec(CmdPoll)...)
	}
	return out
}

func bytesToWords(b []byte) []hostio.Word {
	out := make([]hostio.Word, len(b))
	for i, v := range b {
		out[i] = hostio.Data8(v)
	}
	return out
}

func hexWords(t *testing.T, s string) []hostio.Word {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return bytesToWords(b)
}

func repeat(w hostio.Word, n int) []hostio.Word {
	out := make([]hostio.Word, n)
	for i := range out {
		out[i] = w
	}
	return out
}

func cwBurst(t *testing.T, cw string) []hostio.Word {
	t.Helper()
	words := []hostio.Word{hostio.CWStart}
	words = append(words, hexWords(t, cw)...)
	return append(words, hostio.BurstMark)
}

func expectWords(t *testing.T, what string, got, want []hostio.Word) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", what, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: word %d = %s, want %s (got %v)", what, i, got[i], want[i], got)
		}
	}
}

func TestPollEmptyReturnsIdle(t *testing.T) {
	r := newRig(t)
	expectWords(t, "polls", r.drain(3), repeat(hostio.Idle, 3))
}

func TestChannelTableRoundTrip(t *testing.T) {
	r := newRig(t)

	payload := append(bytesToWords([]byte{1, 2, 3, 4, 5, 6, 7, 8}), 0, 0)
	got := r.exec(CmdSetChannels, payload...)
	expectWords(t, "0100", got, append(repeat(hostio.NotReady, 5), hostio.Idle))

	expectWords(t, "0201", r.exec(CmdChannels), []hostio.Word{hostio.Framed8(0x01)})

	want := []hostio.Word{hostio.BurstMark, 1, 2, 3, 4, 5, 6, 7, 8, hostio.Idle}
	expectWords(t, "drain", r.drain(10), want)
	expectWords(t, "after drain", r.drain(1), []hostio.Word{hostio.Idle})

	if ch := r.ks.Channels(); ch != [8]byte{1, 2, 3, 4, 5, 6, 7, 8} {
		t.Errorf("persisted channels = % x", ch)
	}
}

func TestSetChannelsUnchangedWritesNothing(t *testing.T) {
	r := newRig(t)
	ch := r.ks.Channels()
	before := r.mem.Writes()
	r.exec(CmdSetChannels, append(bytesToWords(ch[:]), 0, 0)...)
	if r.mem.Writes() != before {
		t.Fatalf("re-provisioning identical channels wrote %d cells", r.mem.Writes()-before)
	}
}

func TestDecryptOutsideDateWindowFails(t *testing.T) {
	r := newRig(t)
	if !r.p.State().Validating() {
		t.Fatal("factory profile should validate")
	}
	got := r.exec(0x0600, repeat(0, 16)...)
	expectWords(t, "0600", got, repeat(hostio.NotReady, 9))
	expectWords(t, "drain", r.drain(2), []hostio.Word{hostio.Failure, hostio.Idle})

	info := r.p.Info()
	if info.DecryptFails != 1 || info.LastDecrypt == nil || info.LastDecrypt.Reason != "date out of window" {
		t.Errorf("info = %+v", info)
	}
}

func TestDecryptInsideWindow(t *testing.T) {
	r := newRig(t)
	r.exec(0x0600, hexWords(t, "ea212233d6856677c2e9aabbae4deeff")...)
	expectWords(t, "drain", r.drain(10), cwBurst(t, "3319275b4db27714"))
}

func TestDecryptEscapedDateWindow(t *testing.T) {
	r := newRig(t)
	key := [8]byte{0x00, 0xE2, 0x51, 0x6D, 0x15, 0x97, 0x51, 0x55}
	if err := r.ks.SetKey(0, key); err != nil {
		t.Fatal(err)
	}
	// Window 6000..6400 excludes the FFFF escape word itself.
	rec0, _ := r.ks.Record(0)
	rec1, _ := r.ks.Record(1)
	rec0[8], rec0[9] = 0x00, 0x60
	rec1[6], rec1[7] = 0x00, 0x64
	if err := r.ks.SetRecord(0, rec0); err != nil {
		t.Fatal(err)
	}
	if err := r.ks.SetRecord(1, rec1); err != nil {
		t.Fatal(err)
	}
	r.p = New(r.host, r.ks)

	r.exec(0x0602, hexWords(t, "d56192730270ef7c34749ce6034830a1")...)
	expectWords(t, "inside", r.drain(10), cwBurst(t, "e717eb09c5144f08"))
	if out := r.p.Info().LastDecrypt; out == nil || out.Date != 0x62c7 {
		t.Fatalf("last decrypt = %+v", out)
	}

	r.exec(0x0602, hexWords(t, "a8f30256ffcda53d054c20c6ba064159")...)
	expectWords(t, "outside", r.drain(1), []hostio.Word{hostio.Failure})
	if out := r.p.Info().LastDecrypt; out == nil || out.Date != 0x643d || out.Reason != "date out of window" {
		t.Fatalf("last decrypt = %+v", out)
	}
}

func TestDecryptAudienceMismatch(t *testing.T) {
	r := newRig(t)
	// Same in-window message, but audience byte 0x02 does not match aux 0x00.
	r.exec(0x0602, hexWords(t, "ea212233d6856677c2e9aabbae4deeff")...)
	expectWords(t, "drain", r.drain(1), []hostio.Word{hostio.Failure})
}

func TestDecryptWithoutValidation(t *testing.T) {
	r := newRig(t)
	expectWords(t, "1400", r.exec(0x1400), []hostio.Word{hostio.ModeAck})
	r.exec(0x0600, repeat(0, 16)...)
	expectWords(t, "drain", r.drain(10), cwBurst(t, "595717297ae38b0d"))
}

func TestDecryptSpecialAudience(t *testing.T) {
	r := newRig(t)
	r.exec(0x0611, repeat(0, 16)...)
	expectWords(t, "drain", r.drain(10), cwBurst(t, "53975c02d83de10e"))
}

func TestProvisionedKeyIsUsed(t *testing.T) {
	r := newRig(t)

	key := hexWords(t, "00e2516d15975155")
	got := r.exec(0x2403, key...)
	expectWords(t, "2403", got, append([]hostio.Word{hostio.ModeAck}, repeat(hostio.KeyAck, 4)...))

	// ATR profile 1 maps key index 1 to slot 3 and does not validate.
	r.exec(0x1401)
	r.exec(0x0620, hexWords(t, "000102030405060708090a0b0c0d0e0f")...)
	expectWords(t, "drain", r.drain(10), cwBurst(t, "aeee9a3bf12d2b0b"))
}

func TestAlternateCipherVerified(t *testing.T) {
	rounds := 0
	r := newRig(t, WithRoundObserver(func(int) { rounds++ }))
	expectWords(t, "0402", r.exec(0x0402), []hostio.Word{hostio.ModeAck})

	r.exec(0x0600, hexWords(t, "0001020304050607d012bb30e7fb7eeb")...)
	expectWords(t, "drain", r.drain(10), cwBurst(t, "c341426f2a9e8830"))
	if rounds != xtea.Rounds {
		t.Errorf("ran %d rounds, want %d", rounds, xtea.Rounds)
	}

	rounds = 0
	r.exec(0x0600, hexWords(t, "0001020304050607d012bb30e7fb7eea")...)
	expectWords(t, "tampered", r.drain(1), []hostio.Word{hostio.Failure})
	if rounds != xtea.CheckRound+1 {
		t.Errorf("tampered message ran %d rounds, want %d", rounds, xtea.CheckRound+1)
	}
}

func TestAlternateCipherKeyParity(t *testing.T) {
	r := newRig(t)
	r.exec(0x0402)
	// Key index 1 selects the second alternate key.
	r.exec(0x0620, hexWords(t, "000102030405060731ba240acd5edeaf")...)
	expectWords(t, "drain", r.drain(10), cwBurst(t, "da2bbc084afa2a05"))
}

func TestAlternateCipherUnverifiedPassesThrough(t *testing.T) {
	r := newRig(t)
	r.exec(0x0401)
	r.exec(0x0601, hexWords(t, "1122334455667788ffffffffffffffff")...)
	expectWords(t, "drain", r.drain(10), cwBurst(t, "1122334455667788"))
}

func TestModeSelectorsPersist(t *testing.T) {
	r := newRig(t)
	r.exec(0x0402)
	r.exec(0x1412)
	if r.ks.CryptMode() != 2 || r.ks.AtrIndex() != 0x12 {
		t.Fatalf("stored modes = %d/%#x", r.ks.CryptMode(), r.ks.AtrIndex())
	}
	next := New(&hostScript{}, r.ks)
	if st := next.State(); st.CryptMode != 2 || st.AtrIndex != 0x12 {
		t.Fatalf("new session state = %+v", st)
	}
}

func TestATRVariants(t *testing.T) {
	r := newRig(t)
	expectWords(t, "0200", r.exec(CmdATR), []hostio.Word{hostio.Framed8(0xA0)})
	want := append([]hostio.Word{hostio.BurstMark}, hexWords(t, "1c381405ff14e1e5")...)
	expectWords(t, "prde", r.drain(10), append(want, hostio.Idle))

	r.exec(0x1402)
	r.exec(CmdATR)
	want = append([]hostio.Word{hostio.BurstMark}, hexWords(t, "1ce00c01ff14e1e5")...)
	expectWords(t, "cppl", r.drain(10), append(want, hostio.Idle))

	if err := r.ks.SetAtrIndex(0x03); err != nil {
		t.Fatal(err)
	}
	other := newRig(t)
	other.ks = r.ks
	other.p = New(other.host, r.ks)
	expectWords(t, "unknown profile", other.exec(CmdATR), []hostio.Word{hostio.NotReady})
	expectWords(t, "nothing buffered", other.drain(1), []hostio.Word{hostio.Idle})
}

func TestIdentify(t *testing.T) {
	r := newRig(t)
	expectWords(t, "5701", r.exec(0x5701), []hostio.Word{hostio.Framed8(0x01)})
	want := append([]hostio.Word{hostio.BurstMark}, hexWords(t, "0040000074724b1d")...)
	expectWords(t, "drain", r.drain(10), append(want, hostio.Idle))
}

func TestEntitlementRecords(t *testing.T) {
	r := newRig(t)
	got := r.exec(CmdRecords, 0x000, 0x000)
	expectWords(t, "5F00/0", got, repeat(hostio.NotReady, 2))
	want := append([]hostio.Word{hostio.BurstMark}, hexWords(t, "01ffff616bdfbb2180")...)
	expectWords(t, "record 0", r.drain(11), append(want, hostio.Idle))

	r.exec(CmdRecords, 0x001, 0x000)
	want = append([]hostio.Word{hostio.BurstMark}, hexWords(t, "01ffff606adfc121bc")...)
	expectWords(t, "record 1", r.drain(11), append(want, hostio.Idle))

	got = r.exec(CmdRecords, 0x002, 0x000, 0x055, 0x055)
	expectWords(t, "5F00/2", got, []hostio.Word{hostio.NotReady, hostio.NotReady, hostio.Handshake})

	got = r.exec(CmdRecords, 0x007, 0x000)
	expectWords(t, "5F00/7", got, []hostio.Word{hostio.NotReady})
}

func TestHandshakeAndDiscard(t *testing.T) {
	r := newRig(t)
	for _, cmd := range []Command{0x5E00, 0x5E02, 0x5F01, 0x5F02} {
		got := r.exec(cmd, repeat(0x10, 4)...)
		expectWords(t, cmd.String(), got, []hostio.Word{hostio.NotReady, hostio.NotReady, hostio.Handshake})
	}
	got := r.exec(CmdDiscard, repeat(0x20, 64)...)
	expectWords(t, "0500", got, repeat(hostio.NotReady, 33))
}

func TestUnknownCommand(t *testing.T) {
	r := newRig(t)
	before := r.mem.Writes()
	for _, cmd := range []Command{0x1234, 0x0403, 0x1403, 0x0603, 0x5703} {
		expectWords(t, cmd.String(), r.exec(cmd), []hostio.Word{hostio.NotReady})
	}
	if r.mem.Writes() != before {
		t.Fatal("unknown command changed the store")
	}
	if r.p.Info().Unknown != 5 {
		t.Errorf("unknown count = %d", r.p.Info().Unknown)
	}
}

func TestPayloadReadsRetryTimeouts(t *testing.T) {
	r := newRig(t)
	payload := []hostio.Word{1, timeoutMark, 2, 3, 4, timeoutMark, timeoutMark, 5, 6, 7, 8, 0, 0}
	r.exec(CmdSetChannels, payload...)
	if ch := r.ks.Channels(); ch != [8]byte{1, 2, 3, 4, 5, 6, 7, 8} {
		t.Fatalf("channels = % x", ch)
	}
}

func TestRunDetectsCommandBoundaries(t *testing.T) {
	r := newRig(t)
	r.host.feed(
		0x012,               // line noise
		0x102, 0x001,        // 0201
		0x1FF, 0x0FF,        // poll
		0x1FF, 0x1FF, 0x0FF, // framed pair then poll
	)
	if err := r.p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectWords(t, "run", r.host.take(), []hostio.Word{hostio.Framed8(0x01), hostio.BurstMark, hostio.Data8(0x19)})
}

func TestRunStopsBetweenCommands(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.host.feed(0x1FF, 0x0FF)
	if err := r.p.Run(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if len(r.host.out) != 0 {
		t.Fatal("command ran after cancellation")
	}
}

// pipeHost blocks in ReadWord until the test sends a word or the channel
// is closed.
type pipeHost struct {
	in     chan hostio.Word
	out    chan hostio.Word
	closed chan struct{}
	once   sync.Once
}

func newPipeHost() *pipeHost {
	return &pipeHost{
		in:     make(chan hostio.Word),
		out:    make(chan hostio.Word, 64),
		closed: make(chan struct{}),
	}
}

func (h *pipeHost) ReadWord() (hostio.Word, error) {
	select {
	case w := <-h.in:
		return w, nil
	case <-h.closed:
		return 0, hostio.ErrClosed
	}
}

func (h *pipeHost) WriteWord(w hostio.Word) error {
	select {
	case <-h.closed:
		return hostio.ErrClosed
	default:
	}
	h.out <- w
	return nil
}

func (h *pipeHost) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

func (h *pipeHost) expect(t *testing.T, want ...hostio.Word) {
	t.Helper()
	for i, w := range want {
		select {
		case got := <-h.out:
			if got != w {
				t.Fatalf("word %d = %s, want %s", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for word %d (%s)", i, w)
		}
	}
}

// startSetKey runs 2403 up to the middle of its key payload.
func startSetKey(t *testing.T) (*Processor, *pipeHost, *keystore.KeyStore, chan error) {
	t.Helper()
	ks, err := keystore.Open(eeprom.NewMemory(eeprom.DefaultSize))
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	host := newPipeHost()
	p := New(host, ks)
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background()) }()

	host.in <- hostio.Framed8(0x24)
	host.in <- hostio.Data8(0x03)
	host.expect(t, hostio.ModeAck)
	for _, w := range hexWords(t, "00e2516d") {
		host.in <- w
	}
	host.expect(t, hostio.KeyAck, hostio.KeyAck)
	return p, host, ks, runErr
}

func TestCloseWhenIdleWaitsForCommand(t *testing.T) {
	p, host, ks, runErr := startSetKey(t)

	closed := make(chan bool, 1)
	go func() { closed <- p.CloseWhenIdle(5 * time.Second) }()
	select {
	case <-closed:
		t.Fatal("channel closed while 2403 was mid-payload")
	case <-time.After(50 * time.Millisecond):
	}

	for _, w := range hexWords(t, "15975155") {
		host.in <- w
	}
	host.expect(t, hostio.KeyAck, hostio.KeyAck)

	if idle := <-closed; !idle {
		t.Fatal("CloseWhenIdle reported a mid-command close")
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}
	key, err := ks.Key(3)
	if err != nil {
		t.Fatal(err)
	}
	if got := hex.EncodeToString(key[:]); got != "00e2516d15975155" {
		t.Fatalf("slot 3 = %s", got)
	}
}

func TestCloseWhenIdleGivesUpAfterGrace(t *testing.T) {
	p, _, ks, runErr := startSetKey(t)
	before, _ := ks.Key(3)

	if p.CloseWhenIdle(30 * time.Millisecond) {
		t.Fatal("CloseWhenIdle reported an idle close")
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if after, _ := ks.Key(3); after != before {
		t.Fatal("aborted 2403 stored a partial key")
	}
}

func TestInfoShowsPendingResponse(t *testing.T) {
	r := newRig(t)
	r.exec(0x0600, hexWords(t, "ea212233d6856677c2e9aabbae4deeff")...)

	info := r.p.Info()
	want := cwBurst(t, "3319275b4db27714")
	if len(info.Pending) != len(want) {
		t.Fatalf("pending = %#x, want %v", info.Pending, want)
	}
	for i := range want {
		if hostio.Word(info.Pending[i]) != want[i] {
			t.Fatalf("pending word %d = %#x, want %s", i, info.Pending[i], want[i])
		}
	}
	r.drain(len(want))
	if info := r.p.Info(); len(info.Pending) != 0 {
		t.Fatalf("pending after drain = %#x", info.Pending)
	}
}

func TestCommandString(t *testing.T) {
	tests := map[Command]string{
		0x0600: "Decrypt(0600)",
		0x240A: "SetKey(240A)",
		0xFFFF: "Poll(FFFF)",
		0x9999: "Unknown(9999)",
	}
	for c, want := range tests {
		if got := c.String(); got != want {
			t.Errorf("String(%#x) = %q, want %q", uint16(c), got, want)
		}
	}
}

func TestCommandsSorted(t *testing.T) {
	cmds := Commands()
	for i := 1; i < len(cmds); i++ {
		if cmds[i-1] >= cmds[i] {
			t.Fatalf("Commands not sorted at %d", i)
		}
	}
	if len(cmds) != 2+1+1+3+6+16+3+1+5+2+7+1 {
		t.Fatalf("Commands has %d entries", len(cmds))
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		decrypt bool
		bad     bool
	}{
		{in: "0620", want: 0x0620, decrypt: true},
		{in: "0x0611", want: 0x0611, decrypt: true},
		{in: "0603", want: 0x0603},
		{in: "5F00", want: CmdRecords},
		{in: "620", bad: true},
		{in: "zzzz", bad: true},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		if tt.bad {
			if err == nil {
				t.Errorf("ParseCommand(%q) accepted", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseCommand(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if got.IsDecrypt() != tt.decrypt {
			t.Errorf("%s.IsDecrypt() = %v", got, !tt.decrypt)
		}
	}
}
