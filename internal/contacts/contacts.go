// Package contacts is the in-memory model of known mesh nodes and shared
// channels. Inbound adverts and device records merge into it; every
// sender reads it to pick a route.
package contacts

import (
	"errors"
	"fmt"

	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/protocol/timing"
)

var (
	ErrUnknownContact = errors.New("contacts: unknown contact")
	ErrUnknownChannel = errors.New("contacts: unknown channel")
	ErrPathTooLong    = errors.New("contacts: fixed path exceeds maximum hop count")
)

// Kind classifies a contact by the node type it advertises.
type Kind uint8

const (
	KindChat     Kind = Kind(frame.WireKindChat)
	KindRepeater Kind = Kind(frame.WireKindRepeater)
	KindRoom     Kind = Kind(frame.WireKindRoom)
	KindSensor   Kind = Kind(frame.WireKindSensor)
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindRepeater:
		return "repeater"
	case KindRoom:
		return "room"
	case KindSensor:
		return "sensor"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PathMode selects how sends to a contact are routed. Auto follows
// whatever the device last advertised; Fixed and Flood are client-set
// overrides that inbound frames never revert.
type PathMode uint8

const (
	ModeAuto PathMode = iota
	ModeFixed
	ModeFlood
)

func (m PathMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeFixed:
		return "fixed"
	case ModeFlood:
		return "flood"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// PathSelection is the resolved routing decision for one send. It is
// derived fresh at send time and never cached across sends.
type PathSelection struct {
	UseFlood bool
	HopCount int
	Path     []byte
}

// Flood is the worst-case selection used for unknown routes.
func floodSelection() PathSelection {
	return PathSelection{UseFlood: true, HopCount: timing.Flood}
}

// Contact is one known mesh node.
type Contact struct {
	PublicKey   frame.PublicKey
	Name        string
	Kind        Kind
	LastSeen    uint32
	HasLocation bool
	Lat         float64
	Lon         float64

	// OutPath is the device-advertised route, when one is known.
	HasOutPath bool
	OutPath    []byte

	// Mode/FixedPath are exclusively client-set.
	Mode      PathMode
	FixedPath []byte

	Unread int
}

// Channel is one shared-channel slot on the device. Index is stable and
// joins with settings storage.
type Channel struct {
	Index      uint8
	Name       string
	Compressed bool
	Muted      bool
}
