// Package enginetest provides a scriptable in-memory engine.Engine for
// tests. Demuxers replay a packet script, muxers record what was written,
// and decoders and encoders model an internal backlog. Every packet and
// frame handed out is tracked by a Ledger so tests can assert that each
// was released exactly once.
package enginetest

import (
	"context"
	"errors"
	"io"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

// ErrInjected is the default fatal error for scripted failures.
var ErrInjected = errors.New("enginetest: injected failure")

// Unit kinds tracked by the ledger.
const (
	KindPacket = "packet"
	KindFrame  = "frame"
)

// Ledger counts allocations and releases per unit kind.
type Ledger struct {
	allocated map[string]int
	released  map[string]int
	double    int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{allocated: map[string]int{}, released: map[string]int{}}
}

func (l *Ledger) track(kind string) func() {
	l.allocated[kind]++
	done := false
	return func() {
		if done {
			l.double++
			return
		}
		done = true
		l.released[kind]++
	}
}

// Allocated returns how many units of kind were handed out.
func (l *Ledger) Allocated(kind string) int { return l.allocated[kind] }

// Released returns how many units of kind were released.
func (l *Ledger) Released(kind string) int { return l.released[kind] }

// Outstanding returns allocated minus released over all kinds.
func (l *Ledger) Outstanding() int {
	n := 0
	for k, a := range l.allocated {
		n += a - l.released[k]
	}
	return n
}

// DoubleReleases counts release callbacks that ran more than once.
func (l *Ledger) DoubleReleases() int { return l.double }

// Packet is one scripted input packet.
type Packet struct {
	Stream   int
	PTS      int64
	DTS      int64
	Duration int64
	Key      bool
	Data     []byte
}

// DecoderScript shapes the behaviour of fake decoders.
type DecoderScript struct {
	FramesPerPacket int // frames produced per packet, default 1
	Delay           int // packets held before output starts
	Capacity        int // undrained frames that make SendPacket return ErrAgain, 0 = unlimited
	FailSendAt      int // 1-based SendPacket call that fails fatally, 0 = never
	FailReceiveAt   int // 1-based ReceiveFrame call that fails fatally, 0 = never
}

// EncoderScript shapes the behaviour of fake encoders.
type EncoderScript struct {
	Delay         int // frames of look-ahead held until flush
	FailSendAt    int
	FailReceiveAt int
}

// Engine is a fake engine. Configure the exported fields before use; the
// Inputs, Outputs, Decoders and Encoders slices record what was opened.
type Engine struct {
	Ledger *Ledger

	// Input side.
	Format    string
	Streams   []media.Stream
	Packets   []Packet
	ReadErrs  map[int]error // script position -> error returned in place of that packet
	FrameRate rational.Rational
	OpenErr   error
	ProbeErr  error

	// Output side.
	CreateErr      error
	GlobalHeader   bool
	OutputTimeBase func(tmpl media.Stream) rational.Rational // nil keeps the template's
	WriteErr       func(pkt *media.Packet) error
	TrailerErr     error

	// Codecs.
	Decode    DecoderScript
	Encode    EncoderScript
	NoDecoder bool
	NoEncoder bool

	Inputs   []*Demuxer
	Outputs  []*Muxer
	Decoders []*Decoder
	Encoders []*Encoder
}

var _ engine.Engine = (*Engine)(nil)

// New returns a fake engine replaying packets over streams.
func New(streams []media.Stream, packets []Packet) *Engine {
	return &Engine{
		Ledger:  NewLedger(),
		Format:  "fake",
		Streams: streams,
		Packets: packets,
	}
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) OpenInput(_ context.Context, location string) (engine.Demuxer, error) {
	if e.OpenErr != nil {
		return nil, &engine.OpenError{Location: location, Err: e.OpenErr}
	}
	d := &Demuxer{eng: e, Location: location}
	e.Inputs = append(e.Inputs, d)
	return d, nil
}

func (e *Engine) CreateOutput(location, formatHint string) (engine.Muxer, error) {
	if e.CreateErr != nil {
		return nil, &engine.OpenError{Location: location, Err: e.CreateErr}
	}
	m := &Muxer{eng: e, Location: location, FormatHint: formatHint}
	e.Outputs = append(e.Outputs, m)
	return m, nil
}

func (e *Engine) NewDecoder(st media.Stream) (engine.Decoder, error) {
	if e.NoDecoder {
		return nil, &engine.UnsupportedCodecError{Codec: st.Params.CodecID, Direction: "decoder"}
	}
	d := &Decoder{eng: e, script: e.Decode, stream: st}
	if d.script.FramesPerPacket <= 0 {
		d.script.FramesPerPacket = 1
	}
	e.Decoders = append(e.Decoders, d)
	return d, nil
}

func (e *Engine) NewEncoder(cfg engine.EncoderConfig) (engine.Encoder, error) {
	if e.NoEncoder {
		return nil, &engine.UnsupportedCodecError{Codec: cfg.Codec, Direction: "encoder"}
	}
	enc := &Encoder{eng: e, script: e.Encode, Config: cfg}
	e.Encoders = append(e.Encoders, enc)
	return enc, nil
}

func (e *Engine) Formats() []engine.Format {
	return []engine.Format{
		{Kind: engine.FormatDemuxer, Name: "fake", Description: "scripted input"},
		{Kind: engine.FormatMuxer, Name: "fake", Description: "recording output"},
	}
}

// Demuxer replays the engine's packet script once.
type Demuxer struct {
	eng      *Engine
	Location string
	pos      int
	Probed   int
	Closed   int
}

func (d *Demuxer) FormatName() string { return d.eng.Format }

func (d *Demuxer) Probe() error {
	d.Probed++
	return d.eng.ProbeErr
}

func (d *Demuxer) Streams() []media.Stream {
	return append([]media.Stream(nil), d.eng.Streams...)
}

func (d *Demuxer) GuessFrameRate(int) rational.Rational { return d.eng.FrameRate }

func (d *Demuxer) ReadPacket() (*media.Packet, error) {
	if d.pos >= len(d.eng.Packets) {
		return nil, io.EOF
	}
	i := d.pos
	d.pos++
	if err := d.eng.ReadErrs[i]; err != nil {
		return nil, err
	}
	sp := d.eng.Packets[i]
	pkt := media.NewPacket(d.eng.Ledger.track(KindPacket))
	pkt.StreamIndex = sp.Stream
	pkt.PTS = sp.PTS
	pkt.DTS = sp.DTS
	pkt.Duration = sp.Duration
	pkt.Pos = int64(i) * 188
	pkt.KeyFrame = sp.Key
	pkt.Data = append([]byte(nil), sp.Data...)
	return pkt, nil
}

func (d *Demuxer) Close() error {
	d.Closed++
	return nil
}

// Written is the record of one packet accepted by a Muxer.
type Written struct {
	Stream   int
	PTS      int64
	DTS      int64
	Duration int64
	Pos      int64
	Key      bool
	Size     int
}

// Muxer records the streams, header, packets and trailer of one output.
type Muxer struct {
	eng        *Engine
	Location   string
	FormatHint string
	Streams    []media.Stream
	Written    []Written
	Headers    int
	Trailers   int
	Closed     int
}

func (m *Muxer) AddStream(tmpl media.Stream) (int, error) {
	if m.Headers > 0 {
		return 0, engine.ErrUsage
	}
	st := media.Stream{
		Index:        len(m.Streams),
		Params:       tmpl.Params.Clone(),
		TimeBase:     tmpl.TimeBase,
		AvgFrameRate: tmpl.AvgFrameRate,
	}
	m.Streams = append(m.Streams, st)
	return st.Index, nil
}

func (m *Muxer) NeedsGlobalHeader() bool { return m.eng.GlobalHeader }

func (m *Muxer) WriteHeader() error {
	m.Headers++
	if m.eng.OutputTimeBase != nil {
		for i := range m.Streams {
			m.Streams[i].TimeBase = m.eng.OutputTimeBase(m.Streams[i])
		}
	}
	return nil
}

func (m *Muxer) TimeBase(i int) rational.Rational {
	if i < 0 || i >= len(m.Streams) {
		return rational.Rational{}
	}
	return m.Streams[i].TimeBase
}

func (m *Muxer) WritePacket(pkt *media.Packet) error {
	if m.Headers == 0 || m.Trailers > 0 {
		return engine.ErrUsage
	}
	if m.eng.WriteErr != nil {
		if err := m.eng.WriteErr(pkt); err != nil {
			return err
		}
	}
	m.Written = append(m.Written, Written{
		Stream:   pkt.StreamIndex,
		PTS:      pkt.PTS,
		DTS:      pkt.DTS,
		Duration: pkt.Duration,
		Pos:      pkt.Pos,
		Key:      pkt.KeyFrame,
		Size:     len(pkt.Data),
	})
	return nil
}

func (m *Muxer) WriteTrailer() error {
	m.Trailers++
	return m.eng.TrailerErr
}

func (m *Muxer) Close() error {
	m.Closed++
	return nil
}

// CountFor returns how many packets were written for output stream i.
func (m *Muxer) CountFor(i int) int {
	n := 0
	for _, w := range m.Written {
		if w.Stream == i {
			n++
		}
	}
	return n
}

type pending struct {
	pts  int64
	key  bool
	size int
}

// Decoder holds up to Delay packets, then emits FramesPerPacket frames for
// each packet it releases.
type Decoder struct {
	eng    *Engine
	script DecoderScript
	stream media.Stream

	held    []pending
	ready   []pending
	flushed bool

	Sends    int
	Receives int
	Frames   int
	Closed   int
}

func (d *Decoder) SendPacket(pkt *media.Packet) error {
	if d.flushed {
		return engine.ErrUsage
	}
	if pkt == nil {
		d.flushed = true
		for _, p := range d.held {
			d.emit(p)
		}
		d.held = nil
		return nil
	}
	if d.script.Capacity > 0 && len(d.ready) >= d.script.Capacity {
		return engine.ErrAgain
	}
	d.Sends++
	if d.Sends == d.script.FailSendAt {
		return ErrInjected
	}
	d.held = append(d.held, pending{pts: pkt.PTS, key: pkt.KeyFrame, size: len(pkt.Data)})
	for len(d.held) > d.script.Delay {
		d.emit(d.held[0])
		d.held = d.held[1:]
	}
	return nil
}

func (d *Decoder) emit(p pending) {
	for k := 0; k < d.script.FramesPerPacket; k++ {
		q := p
		if p.pts != rational.NoPTS {
			q.pts = p.pts + int64(k)
		}
		q.key = p.key && k == 0
		d.ready = append(d.ready, q)
	}
}

func (d *Decoder) ReceiveFrame() (*media.Frame, error) {
	d.Receives++
	if d.Receives == d.script.FailReceiveAt {
		return nil, ErrInjected
	}
	if len(d.ready) == 0 {
		if d.flushed {
			return nil, io.EOF
		}
		return nil, engine.ErrAgain
	}
	p := d.ready[0]
	d.ready = d.ready[1:]
	d.Frames++

	w, h := d.stream.Params.Width, d.stream.Params.Height
	if w == 0 || h == 0 {
		w, h = 4, 2
	}
	stride := w + 3
	plane := make([]byte, stride*h)
	for i := range plane {
		plane[i] = byte(d.Frames + i)
	}

	f := media.NewFrame(d.eng.Ledger.track(KindFrame))
	f.StreamIndex = d.stream.Index
	f.PTS = p.pts
	f.Width = w
	f.Height = h
	f.Format = "gray"
	f.Planes = [][]byte{plane}
	f.Strides = []int{stride}
	f.KeyFrame = p.key
	f.PacketSize = p.size
	if p.key {
		f.PictureType = 'I'
	} else {
		f.PictureType = 'P'
	}
	return f, nil
}

// Pending returns the number of frames decoded but not yet received.
func (d *Decoder) Pending() int { return len(d.ready) }

func (d *Decoder) Close() error {
	d.Closed++
	return nil
}

// Encoder holds Delay frames of look-ahead and emits one packet per frame.
type Encoder struct {
	eng    *Engine
	script EncoderScript
	Config engine.EncoderConfig

	held    []pending
	ready   []pending
	flushed bool

	Sends    int
	Receives int
	Accepted []int64 // pts of every frame accepted
	Closed   int
}

func (e *Encoder) SendFrame(f *media.Frame) error {
	if e.flushed {
		return engine.ErrUsage
	}
	if f == nil {
		e.flushed = true
		e.ready = append(e.ready, e.held...)
		e.held = nil
		return nil
	}
	e.Sends++
	if e.Sends == e.script.FailSendAt {
		return ErrInjected
	}
	e.Accepted = append(e.Accepted, f.PTS)
	e.held = append(e.held, pending{pts: f.PTS, key: f.KeyFrame, size: len(f.Planes)})
	for len(e.held) > e.script.Delay {
		e.ready = append(e.ready, e.held[0])
		e.held = e.held[1:]
	}
	return nil
}

func (e *Encoder) ReceivePacket() (*media.Packet, error) {
	e.Receives++
	if e.Receives == e.script.FailReceiveAt {
		return nil, ErrInjected
	}
	if len(e.ready) == 0 {
		if e.flushed {
			return nil, io.EOF
		}
		return nil, engine.ErrAgain
	}
	p := e.ready[0]
	e.ready = e.ready[1:]

	pkt := media.NewPacket(e.eng.Ledger.track(KindPacket))
	pkt.PTS = p.pts
	pkt.DTS = p.pts
	pkt.KeyFrame = p.key
	pkt.Data = []byte{0, 0, 1, byte(len(e.Accepted))}
	return pkt, nil
}

func (e *Encoder) Parameters() media.CodecParameters {
	p := media.CodecParameters{
		Kind:        media.KindVideo,
		CodecID:     e.Config.Codec,
		BitRate:     e.Config.BitRate,
		Width:       e.Config.Width,
		Height:      e.Config.Height,
		PixelFormat: e.Config.PixelFormat,
	}
	if e.Config.GlobalHeader {
		p.Extradata = []byte{0, 0, 0, 1, 0x40}
	}
	return p
}

func (e *Encoder) TimeBase() rational.Rational { return e.Config.TimeBase }

func (e *Encoder) Close() error {
	e.Closed++
	return nil
}
