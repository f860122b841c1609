package correlate

import (
	"encoding/hex"
	"fmt"

	"github.com/danmuck/meshctl/internal/protocol/frame"
)

// Key matches one inbound frame to exactly one pending request. Two kinds
// exist: an identity-prefix key for login/CLI/delivery-ack pushes and a
// client-chosen tag key for trace probes. Keys compare by exact value;
// a mismatch means "not for me", never an error.
type Key struct {
	kind   keyKind
	prefix frame.Prefix
	tag    uint32
}

type keyKind uint8

const (
	keyPrefix keyKind = iota + 1
	keyTag
)

// PrefixKey builds a key from an identity prefix.
func PrefixKey(p frame.Prefix) Key {
	return Key{kind: keyPrefix, prefix: p}
}

// TagKey builds a key from a trace tag.
func TagKey(tag uint32) Key {
	return Key{kind: keyTag, tag: tag}
}

func (k Key) String() string {
	switch k.kind {
	case keyPrefix:
		return "prefix:" + hex.EncodeToString(k.prefix[:])
	case keyTag:
		return fmt.Sprintf("tag:%d", k.tag)
	default:
		return "key:zero"
	}
}

// keyFor derives the correlation key of an inbound frame, if it carries
// one. State frames (adverts, contact/channel records) have no key.
func keyFor(msg frame.Message) (Key, bool) {
	switch m := msg.(type) {
	case frame.SendConfirmed:
		return PrefixKey(m.Prefix), true
	case frame.LoginSuccess:
		return PrefixKey(m.Prefix), true
	case frame.LoginFail:
		return PrefixKey(m.Prefix), true
	case frame.CLIResponse:
		return PrefixKey(m.Prefix), true
	case frame.TraceData:
		return TagKey(m.Tag), true
	}
	return Key{}, false
}
