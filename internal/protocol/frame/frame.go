// Package frame is the byte-level codec for the device companion protocol.
//
// Every frame begins with a code byte; the remaining layout is fixed per
// code. Decoding is pure: same bytes in, same result out. Frames shorter
// than their code's minimum length decode to ErrShortFrame and must be
// dropped by the caller before they reach any other component.
package frame

import "errors"

// Code identifies the kind of a frame. Commands and responses/pushes are
// direction-tagged code spaces; pushes start at 0x80.
type Code uint8

// Command codes, client -> device.
const (
	CmdAppStart          Code = 0x01
	CmdSendTxtMsg        Code = 0x02
	CmdSendChannelTxtMsg Code = 0x03
	CmdSendLogin         Code = 0x1A
	CmdSendTracePath     Code = 0x24
	CmdSendCLI           Code = 0x32
)

// Response and push codes, device -> client.
const (
	RespOk          Code = 0x00
	RespErr         Code = 0x01
	RespContact     Code = 0x03
	RespChannelInfo Code = 0x07

	PushAdvert         Code = 0x80
	PushPathUpdated    Code = 0x81
	PushSendConfirmed  Code = 0x82
	PushMsgWaiting     Code = 0x83
	PushLoginSuccess   Code = 0x84
	PushLoginFail      Code = 0x85
	PushTraceData      Code = 0x86
	PushLoginSuccessV2 Code = 0x87
	PushCLIResponse    Code = 0x88
)

const (
	// KeyLen is the length of a full public identity.
	KeyLen = 32
	// PrefixLen is the length of the identity prefix carried by
	// identity-correlated pushes at bytes 2..8.
	PrefixLen = 6
	// MaxPathLen bounds the hop count of any explicit path.
	MaxPathLen = 64
)

var (
	ErrEmptyFrame  = errors.New("frame: empty frame")
	ErrShortFrame  = errors.New("frame: frame below minimum length for code")
	ErrUnknownCode = errors.New("frame: unknown code")
	ErrPathTooLong = errors.New("frame: path exceeds maximum hop count")
)

// PublicKey is a node's full public identity.
type PublicKey [KeyLen]byte

// Prefix is the leading slice of a public identity used as a correlation
// key for login, CLI, and delivery-ack frames.
type Prefix [PrefixLen]byte

// Prefix returns the correlation prefix of the identity.
func (k PublicKey) Prefix() Prefix {
	var p Prefix
	copy(p[:], k[:PrefixLen])
	return p
}

// Message is one decoded frame. Every concrete message reports the code
// byte it was decoded from (or will encode to).
type Message interface {
	Code() Code
}

// Minimum valid lengths per inbound (response/push) code.
var minInboundLen = map[Code]int{
	RespOk:             1,
	RespErr:            2,
	RespContact:        39,
	RespChannelInfo:    3,
	PushAdvert:         47,
	PushPathUpdated:    8,
	PushSendConfirmed:  12,
	PushMsgWaiting:     1,
	PushLoginSuccess:   10,
	PushLoginFail:      8,
	PushTraceData:      6,
	PushLoginSuccessV2: 11,
	PushCLIResponse:    8,
}

// Minimum valid lengths per command code.
var minCommandLen = map[Code]int{
	CmdAppStart:          2,
	CmdSendTxtMsg:        13,
	CmdSendChannelTxtMsg: 7,
	CmdSendLogin:         33,
	CmdSendTracePath:     10,
	CmdSendCLI:           33,
}
