package connector

import (
	"context"
	"fmt"

	"github.com/danmuck/meshctl/internal/correlate"
	"github.com/danmuck/meshctl/internal/protocol/frame"
)

// TraceResult is the outcome of one path probe: how many hops reported
// and their signal quality, positional, one entry per reporting hop.
type TraceResult struct {
	Tag      uint32
	HopCount int
	SNRs     []float64
}

// Trace is the live handle for one outstanding probe. The caller owns
// the wait: TracePath returns as soon as the probe is on the air.
type Trace struct {
	Tag     uint32
	pending *correlate.Pending
}

// Wait blocks until the matching trace push arrives, the registration
// deadline elapses, or ctx is done.
func (t *Trace) Wait(ctx context.Context) (TraceResult, error) {
	msg, err := t.pending.Wait(ctx)
	if err != nil {
		return TraceResult{}, err
	}
	data, ok := msg.(frame.TraceData)
	if !ok {
		return TraceResult{}, fmt.Errorf("connector: unexpected trace reply code 0x%02x", uint8(msg.Code()))
	}
	return TraceResult{
		Tag:      data.Tag,
		HopCount: len(data.SNRs),
		SNRs:     data.SNRs,
	}, nil
}

// Cancel releases the probe without waiting, leaking no timer or
// callback. A result arriving later is ignored.
func (t *Trace) Cancel() { t.pending.Cancel() }

// TracePath probes an explicit route through the given hops. The probe
// body carries one identity byte per hop. A fresh tag is chosen that
// collides with no outstanding probe, and the handle is returned
// immediately so the caller can manage its own wait.
func (c *Connector) TracePath(ctx context.Context, hops []frame.PublicKey) (*Trace, error) {
	if len(hops) == 0 {
		return nil, ErrEmptyPath
	}
	if len(hops) > frame.MaxPathLen {
		return nil, fmt.Errorf("%w: %d hops", frame.ErrPathTooLong, len(hops))
	}
	path := make([]byte, len(hops))
	for i, pk := range hops {
		path[i] = pk[0]
	}

	tag := c.allocateTag()
	p, err := c.engine.Register(
		correlate.TagKey(tag),
		[]frame.Code{frame.PushTraceData},
		c.cfg.TraceTimeout,
	)
	if err != nil {
		return nil, err
	}
	cmd := frame.TracePath{Tag: tag, Path: path}
	if err := c.writeFrame(ctx, cmd.Encode()); err != nil {
		p.Cancel()
		return nil, err
	}
	c.log.Debug().Uint32("tag", tag).Int("hops", len(hops)).Msg("trace probe sent")
	return &Trace{Tag: tag, pending: p}, nil
}

// allocateTag picks a nonzero tag no outstanding probe is using.
func (c *Connector) allocateTag() uint32 {
	c.tagMu.Lock()
	defer c.tagMu.Unlock()
	for {
		tag := c.rng.Uint32()
		if tag == 0 {
			continue
		}
		if c.engine.Has(correlate.TagKey(tag)) {
			continue
		}
		return tag
	}
}
