// Package tcpbridge carries device frames over a TCP connection to a BLE
// bridge daemon. BLE packetization itself stays outside the core; the
// bridge re-exposes it as length-prefixed frames on a plain socket.
package tcpbridge

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshctl/internal/protocol/timing"
)

var (
	ErrAddressRequired = errors.New("tcpbridge: bridge address required")
	ErrFrameTooLarge   = errors.New("tcpbridge: frame exceeds max length")
	ErrClosed          = errors.New("tcpbridge: connection closed")
)

// Config holds the bridge transport knobs.
type Config struct {
	Address         string
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration
	MaxFrameLen     int
	MaxDialAttempts int
	Backoff         timing.BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  5 * time.Second,
		WriteTimeout:    15 * time.Second,
		MaxFrameLen:     1024,
		MaxDialAttempts: 3,
		Backoff:         timing.DefaultBackoff(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxFrameLen <= 0 {
		c.MaxFrameLen = def.MaxFrameLen
	}
	if c.MaxDialAttempts <= 0 {
		c.MaxDialAttempts = def.MaxDialAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Bridge implements connector.Transport over one TCP connection. Each
// frame travels as a big-endian u16 length prefix plus the raw bytes.
type Bridge struct {
	cfg    Config
	conn   net.Conn
	frames chan []byte
	disc   chan error
	quit   chan struct{}
	log    zerolog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial connects to the bridge, retrying with backoff up to the
// configured attempt limit, and starts the inbound read loop.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Bridge, error) {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	lg := log.With().Str("component", "tcpbridge").Logger()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxDialAttempts; attempt++ {
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			return fromConn(cfg, conn, lg), nil
		}
		lastErr = err
		lg.Warn().Int("attempt", attempt).Str("addr", cfg.Address).Err(err).Msg("bridge dial failed")
		if attempt == cfg.MaxDialAttempts {
			break
		}
		delay := timing.NextBackoffDelay(cfg.Backoff, attempt, rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// FromConn wraps an established connection, for tests and alternate
// dialers (unix sockets, pipes).
func FromConn(cfg Config, conn net.Conn, log zerolog.Logger) *Bridge {
	return fromConn(cfg.withDefaults(), conn, log.With().Str("component", "tcpbridge").Logger())
}

func fromConn(cfg Config, conn net.Conn, lg zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		conn:   conn,
		frames: make(chan []byte, 16),
		disc:   make(chan error, 1),
		quit:   make(chan struct{}),
		log:    lg,
	}
	go b.readLoop()
	return b
}

// SendFrame flushes one frame to the bridge. Writes are serialized and
// deadline-bound.
func (b *Bridge) SendFrame(ctx context.Context, raw []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if len(raw) > b.cfg.MaxFrameLen {
		return ErrFrameTooLarge
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	deadline := time.Now().Add(b.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = b.conn.SetWriteDeadline(deadline)

	buf := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(raw)))
	copy(buf[2:], raw)
	if _, err := b.conn.Write(buf); err != nil {
		b.fail(err)
		return err
	}
	return nil
}

// Frames yields inbound frames in arrival order. The channel closes when
// the connection is lost.
func (b *Bridge) Frames() <-chan []byte { return b.frames }

// Disconnected signals once when the connection is lost.
func (b *Bridge) Disconnected() <-chan error { return b.disc }

// Close tears the connection down.
func (b *Bridge) Close() error {
	b.fail(ErrClosed)
	return nil
}

func (b *Bridge) fail(err error) {
	if b.closed.Swap(true) {
		return
	}
	select {
	case b.disc <- err:
	default:
	}
	close(b.quit)
	_ = b.conn.Close()
}

func (b *Bridge) readLoop() {
	defer close(b.frames)
	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(b.conn, lenBuf[:]); err != nil {
			b.fail(err)
			return
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n > b.cfg.MaxFrameLen {
			// Length prefix out of range means the stream is corrupt;
			// there is no way to resynchronize mid-stream.
			b.log.Error().Int("len", n).Msg("oversize frame, dropping connection")
			b.fail(ErrFrameTooLarge)
			return
		}
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(b.conn, buf); err != nil {
				b.fail(err)
				return
			}
		}
		select {
		case b.frames <- buf:
		case <-b.quit:
			return
		}
	}
}
