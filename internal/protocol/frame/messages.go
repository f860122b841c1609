package frame

// Text message payload types for CmdSendTxtMsg / CmdSendChannelTxtMsg.
const (
	TxtTypePlain   uint8 = 0
	TxtTypeCLIData uint8 = 1
)

// Advert flag bits.
const (
	AdvertFlagHasLocation uint8 = 0x01
)

// Channel flag bits.
const (
	ChannelFlagCompressed uint8 = 0x01
)

// Contact kinds as carried on the wire by adverts and contact records.
const (
	WireKindChat     uint8 = 0
	WireKindRepeater uint8 = 1
	WireKindRoom     uint8 = 2
	WireKindSensor   uint8 = 3
)

// ---- commands, client -> device ----

// AppStart announces the companion app to the device.
type AppStart struct {
	AppVersion uint8
	Name       string
}

func (AppStart) Code() Code { return CmdAppStart }

// TextMessage is one direct text delivery attempt to a contact.
type TextMessage struct {
	TxtType   uint8
	Attempt   uint8
	Timestamp uint32
	Prefix    Prefix
	Text      string
}

func (TextMessage) Code() Code { return CmdSendTxtMsg }

// ChannelTextMessage is a text sent on a shared channel.
type ChannelTextMessage struct {
	TxtType      uint8
	ChannelIndex uint8
	Timestamp    uint32
	Text         string
}

func (ChannelTextMessage) Code() Code { return CmdSendChannelTxtMsg }

// Login authenticates against a repeater. An empty password is a guest
// login.
type Login struct {
	PublicKey PublicKey
	Password  string
}

func (Login) Code() Code { return CmdSendLogin }

// TracePath probes an explicit route; Path holds one identity byte per
// intermediate hop. Tag is echoed back in the matching PushTraceData.
type TracePath struct {
	Tag   uint32
	Auth  uint32
	Flags uint8
	Path  []byte
}

func (TracePath) Code() Code { return CmdSendTracePath }

// CLICommand sends a diagnostic command line to a repeater.
type CLICommand struct {
	PublicKey PublicKey
	Text      string
}

func (CLICommand) Code() Code { return CmdSendCLI }

// ---- responses and pushes, device -> client ----

// Ok is the bare device-level acknowledgment.
type Ok struct{}

func (Ok) Code() Code { return RespOk }

// Err is the bare device-level error response.
type Err struct {
	Reason uint8
}

func (Err) Code() Code { return RespErr }

// ContactInfo is one entry of the device-reported contact list.
type ContactInfo struct {
	PublicKey PublicKey
	Kind      uint8
	OutPath   []byte
	LastSeen  uint32
	Name      string
}

func (ContactInfo) Code() Code { return RespContact }

// ChannelInfo is one entry of the device-reported channel list.
type ChannelInfo struct {
	Index uint8
	Flags uint8
	Name  string
}

func (ChannelInfo) Code() Code { return RespChannelInfo }

// Advert is a node's periodic broadcast describing itself. Lat/Lon are
// valid only when HasLocation is set.
type Advert struct {
	Kind        uint8
	PublicKey   PublicKey
	Timestamp   uint32
	HasLocation bool
	Lat         float64
	Lon         float64
	Name        string
}

func (Advert) Code() Code { return PushAdvert }

// PathUpdated reports a new device-observed route to the contact whose
// identity starts with Prefix.
type PathUpdated struct {
	Prefix Prefix
	Path   []byte
}

func (PathUpdated) Code() Code { return PushPathUpdated }

// SendConfirmed is the end-to-end delivery ack for a direct text message.
type SendConfirmed struct {
	PathLen         uint8
	Prefix          Prefix
	RoundTripMillis uint32
}

func (SendConfirmed) Code() Code { return PushSendConfirmed }

// MsgWaiting signals that the device holds messages for retrieval.
type MsgWaiting struct{}

func (MsgWaiting) Code() Code { return PushMsgWaiting }

// LoginSuccess reports an accepted repeater login. The V2 variant of the
// push additionally carries an ACL level; HasACL distinguishes the two
// wire shapes, which callers must accept interchangeably.
type LoginSuccess struct {
	PathLen       uint8
	Prefix        Prefix
	KeepaliveSecs uint16
	ACL           uint8
	HasACL        bool
}

func (m LoginSuccess) Code() Code {
	if m.HasACL {
		return PushLoginSuccessV2
	}
	return PushLoginSuccess
}

// LoginFail reports a rejected repeater login.
type LoginFail struct {
	PathLen uint8
	Prefix  Prefix
}

func (LoginFail) Code() Code { return PushLoginFail }

// TraceData is the result of a trace probe. SNRs holds one quarter-dB
// reading per hop that reported; its length need not equal the requested
// hop count.
type TraceData struct {
	Flags uint8
	Tag   uint32
	SNRs  []float64
}

func (TraceData) Code() Code { return PushTraceData }

// CLIResponse carries a repeater's reply to a CLICommand.
type CLIResponse struct {
	PathLen uint8
	Prefix  Prefix
	Text    string
}

func (CLIResponse) Code() Code { return PushCLIResponse }
