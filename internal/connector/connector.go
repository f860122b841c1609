// Package connector owns one live device session: it serializes outbound
// frames, runs the inbound dispatch loop, and builds the higher-level
// exchanges (message delivery, login, path tracing, CLI) on top of the
// correlation engine. A torn-down link ends the connector; reconnection
// is the caller's concern and starts a fresh instance.
package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshctl/internal/contacts"
	"github.com/danmuck/meshctl/internal/correlate"
	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/protocol/timing"
)

var (
	ErrClosed        = errors.New("connector: session closed")
	ErrLoginRejected = errors.New("connector: login rejected")
	ErrEmptyPath     = errors.New("connector: trace path is empty")
)

// Transport is the byte-stream collaborator: one serialized frame write
// at a time, an ordered inbound frame source, and a disconnect signal.
type Transport interface {
	SendFrame(ctx context.Context, raw []byte) error
	Frames() <-chan []byte
	Disconnected() <-chan error
}

// Config holds the connector policy knobs. The login attempt count and
// the trace deadline default to the observed values but stay
// configurable.
type Config struct {
	AppName       string
	AppVersion    uint8
	LoginAttempts int
	TraceTimeout  time.Duration
	Timing        timing.Model
}

func DefaultConfig() Config {
	return Config{
		AppName:       "meshctl",
		AppVersion:    1,
		LoginAttempts: 3,
		TraceTimeout:  30 * time.Second,
		Timing:        timing.DefaultModel(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AppName == "" {
		c.AppName = def.AppName
	}
	if c.AppVersion == 0 {
		c.AppVersion = def.AppVersion
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = def.LoginAttempts
	}
	if c.TraceTimeout <= 0 {
		c.TraceTimeout = def.TraceTimeout
	}
	c.Timing = c.Timing.WithDefaults()
	return c
}

// Connector multiplexes every conversation of one session onto the
// single inbound frame stream.
type Connector struct {
	cfg       Config
	transport Transport
	engine    *correlate.Engine
	cache     *contacts.Cache
	log       zerolog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool

	tagMu sync.Mutex
	rng   *rand.Rand
}

func New(t Transport, cache *contacts.Cache, cfg Config, log zerolog.Logger) *Connector {
	lg := log.With().Str("component", "connector").Logger()
	return &Connector{
		cfg:       cfg.withDefaults(),
		transport: t,
		engine:    correlate.NewEngine(log),
		cache:     cache,
		log:       lg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Engine exposes the correlation engine for tests and diagnostics.
func (c *Connector) Engine() *correlate.Engine { return c.engine }

// Closed reports whether the session has stopped accepting sends.
func (c *Connector) Closed() bool { return c.closed.Load() }

// Run processes inbound frames in arrival order until the transport
// disconnects or ctx is canceled. Either way every outstanding request
// completes with a connection-lost outcome and further sends are
// rejected.
func (c *Connector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case err := <-c.transport.Disconnected():
			c.shutdown()
			c.log.Warn().Err(err).Msg("transport disconnected")
			return err
		case raw, ok := <-c.transport.Frames():
			if !ok {
				c.shutdown()
				return correlate.ErrConnectionLost
			}
			c.handleFrame(raw)
		}
	}
}

func (c *Connector) shutdown() {
	c.closed.Store(true)
	c.engine.FailAll(correlate.ErrConnectionLost)
}

// handleFrame is the single dispatch point: decode, offer to the pending
// table, else merge state frames into the cache, else drop. Malformed
// input is logged and discarded; it never propagates.
func (c *Connector) handleFrame(raw []byte) {
	msg, err := frame.Decode(raw)
	if err != nil {
		c.log.Debug().Int("len", len(raw)).Err(err).Msg("malformed frame dropped")
		return
	}
	if c.engine.Dispatch(msg) {
		return
	}
	switch m := msg.(type) {
	case frame.Advert:
		c.cache.ApplyAdvert(m)
	case frame.ContactInfo:
		c.cache.ApplyContactInfo(m)
	case frame.PathUpdated:
		c.cache.ApplyPathUpdate(m)
	case frame.ChannelInfo:
		c.cache.ApplyChannelInfo(m)
	case frame.MsgWaiting:
		c.log.Debug().Msg("device reports messages waiting")
	default:
		c.log.Debug().Uint8("code", uint8(msg.Code())).Msg("unmatched frame dropped")
	}
}

// writeFrame serializes all outbound traffic: one frame is flushed to the
// transport before the next is issued.
func (c *Connector) writeFrame(ctx context.Context, raw []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.SendFrame(ctx, raw)
}

// Start announces the companion app to the device.
func (c *Connector) Start(ctx context.Context) error {
	return c.writeFrame(ctx, frame.AppStart{AppVersion: c.cfg.AppVersion, Name: c.cfg.AppName}.Encode())
}

// SendText transmits one direct-message attempt and waits for the
// destination's delivery ack or the route-priced deadline. The route and
// deadline are resolved fresh per call.
func (c *Connector) SendText(ctx context.Context, to frame.PublicKey, text string, attempt int) error {
	route := c.cache.ResolveRoute(to)
	deadline := c.cfg.Timing.Timeout(route.HopCount, len(text))
	p, err := c.engine.Register(
		correlate.PrefixKey(to.Prefix()),
		[]frame.Code{frame.PushSendConfirmed},
		deadline,
	)
	if err != nil {
		return err
	}
	cmd := frame.TextMessage{
		TxtType:   frame.TxtTypePlain,
		Attempt:   uint8(attempt),
		Timestamp: uint32(time.Now().Unix()),
		Prefix:    to.Prefix(),
		Text:      text,
	}
	if err := c.writeFrame(ctx, cmd.Encode()); err != nil {
		p.Cancel()
		return err
	}
	_, err = p.Wait(ctx)
	return err
}

// SendChannelText posts a text on a shared channel. Channel traffic has
// no end-to-end ack; the frame is done once flushed to the transport.
func (c *Connector) SendChannelText(ctx context.Context, channel uint8, text string) error {
	cmd := frame.ChannelTextMessage{
		TxtType:      frame.TxtTypePlain,
		ChannelIndex: channel,
		Timestamp:    uint32(time.Now().Unix()),
		Text:         text,
	}
	return c.writeFrame(ctx, cmd.Encode())
}

// SendCLI sends a diagnostic command to a repeater and waits for its
// prefix-correlated reply text.
func (c *Connector) SendCLI(ctx context.Context, repeater frame.PublicKey, command string) (string, error) {
	route := c.cache.ResolveRoute(repeater)
	deadline := c.cfg.Timing.Timeout(route.HopCount, len(command))
	p, err := c.engine.Register(
		correlate.PrefixKey(repeater.Prefix()),
		[]frame.Code{frame.PushCLIResponse},
		deadline,
	)
	if err != nil {
		return "", err
	}
	cmd := frame.CLICommand{PublicKey: repeater, Text: command}
	if err := c.writeFrame(ctx, cmd.Encode()); err != nil {
		p.Cancel()
		return "", err
	}
	msg, err := p.Wait(ctx)
	if err != nil {
		return "", err
	}
	resp, ok := msg.(frame.CLIResponse)
	if !ok {
		return "", fmt.Errorf("connector: unexpected cli reply code 0x%02x", uint8(msg.Code()))
	}
	return resp.Text, nil
}
