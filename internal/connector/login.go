package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/meshctl/internal/correlate"
	"github.com/danmuck/meshctl/internal/protocol/frame"
)

// LoginResult reports an accepted repeater login.
type LoginResult struct {
	KeepaliveSecs uint16
	ACL           uint8
	HasACL        bool
}

// Login authenticates against a repeater. An empty password requests a
// guest login. The full send-and-wait cycle repeats up to the configured
// attempt count when no definitive reply arrives; a success or failure
// push ends it early. Frames with a mismatched prefix never consume the
// wait, and rejection is distinguishable from timeout via
// ErrLoginRejected vs correlate.ErrTimeout.
func (c *Connector) Login(ctx context.Context, repeater frame.PublicKey, password string) (LoginResult, error) {
	attempts := c.cfg.LoginAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := c.loginOnce(ctx, repeater, password)
		if errors.Is(err, correlate.ErrTimeout) {
			c.log.Debug().Int("attempt", attempt).Msg("login attempt timed out")
			continue
		}
		return res, err
	}
	return LoginResult{}, fmt.Errorf("connector: login after %d attempts: %w", attempts, correlate.ErrTimeout)
}

func (c *Connector) loginOnce(ctx context.Context, repeater frame.PublicKey, password string) (LoginResult, error) {
	route := c.cache.ResolveRoute(repeater)
	deadline := c.cfg.Timing.Timeout(route.HopCount, frame.KeyLen+len(password))
	p, err := c.engine.Register(
		correlate.PrefixKey(repeater.Prefix()),
		[]frame.Code{frame.PushLoginSuccess, frame.PushLoginSuccessV2, frame.PushLoginFail},
		deadline,
	)
	if err != nil {
		return LoginResult{}, err
	}
	cmd := frame.Login{PublicKey: repeater, Password: password}
	if err := c.writeFrame(ctx, cmd.Encode()); err != nil {
		p.Cancel()
		return LoginResult{}, err
	}
	msg, err := p.Wait(ctx)
	if err != nil {
		return LoginResult{}, err
	}
	switch m := msg.(type) {
	case frame.LoginSuccess:
		return LoginResult{KeepaliveSecs: m.KeepaliveSecs, ACL: m.ACL, HasACL: m.HasACL}, nil
	case frame.LoginFail:
		return LoginResult{}, fmt.Errorf("%w: repeater %x", ErrLoginRejected, repeater[:frame.PrefixLen])
	default:
		return LoginResult{}, fmt.Errorf("connector: unexpected login reply code 0x%02x", uint8(msg.Code()))
	}
}
