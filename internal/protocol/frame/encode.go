package frame

import (
	"encoding/binary"
	"math"
)

// All multi-byte integers are little-endian, the device firmware's native
// byte order.

func (m AppStart) Encode() []byte {
	buf := make([]byte, 0, 2+len(m.Name))
	buf = append(buf, byte(CmdAppStart), m.AppVersion)
	return append(buf, m.Name...)
}

func (m TextMessage) Encode() []byte {
	buf := make([]byte, 13, 13+len(m.Text))
	buf[0] = byte(CmdSendTxtMsg)
	buf[1] = m.TxtType
	buf[2] = m.Attempt
	binary.LittleEndian.PutUint32(buf[3:7], m.Timestamp)
	copy(buf[7:13], m.Prefix[:])
	return append(buf, m.Text...)
}

func (m ChannelTextMessage) Encode() []byte {
	buf := make([]byte, 7, 7+len(m.Text))
	buf[0] = byte(CmdSendChannelTxtMsg)
	buf[1] = m.TxtType
	buf[2] = m.ChannelIndex
	binary.LittleEndian.PutUint32(buf[3:7], m.Timestamp)
	return append(buf, m.Text...)
}

func (m Login) Encode() []byte {
	buf := make([]byte, 33, 33+len(m.Password))
	buf[0] = byte(CmdSendLogin)
	copy(buf[1:33], m.PublicKey[:])
	return append(buf, m.Password...)
}

func (m TracePath) Encode() []byte {
	buf := make([]byte, 10, 10+len(m.Path))
	buf[0] = byte(CmdSendTracePath)
	binary.LittleEndian.PutUint32(buf[1:5], m.Tag)
	binary.LittleEndian.PutUint32(buf[5:9], m.Auth)
	buf[9] = m.Flags
	return append(buf, m.Path...)
}

func (m CLICommand) Encode() []byte {
	buf := make([]byte, 33, 33+len(m.Text))
	buf[0] = byte(CmdSendCLI)
	copy(buf[1:33], m.PublicKey[:])
	return append(buf, m.Text...)
}

// Inbound shapes encode as well so tests and bridge tooling can simulate
// device traffic through the same pinned layouts.

func (Ok) Encode() []byte { return []byte{byte(RespOk)} }

func (m Err) Encode() []byte { return []byte{byte(RespErr), m.Reason} }

func (m ContactInfo) Encode() []byte {
	buf := make([]byte, 0, 39+len(m.OutPath)+len(m.Name))
	buf = append(buf, byte(RespContact))
	buf = append(buf, m.PublicKey[:]...)
	buf = append(buf, m.Kind, byte(len(m.OutPath)))
	buf = append(buf, m.OutPath...)
	var ts [4]byte
	binary.LittleEndian.PutUint32(ts[:], m.LastSeen)
	buf = append(buf, ts[:]...)
	return append(buf, m.Name...)
}

func (m ChannelInfo) Encode() []byte {
	buf := make([]byte, 0, 3+len(m.Name))
	buf = append(buf, byte(RespChannelInfo), m.Index, m.Flags)
	return append(buf, m.Name...)
}

func (m Advert) Encode() []byte {
	buf := make([]byte, 47, 47+len(m.Name))
	buf[0] = byte(PushAdvert)
	buf[1] = m.Kind
	copy(buf[2:34], m.PublicKey[:])
	binary.LittleEndian.PutUint32(buf[34:38], m.Timestamp)
	if m.HasLocation {
		buf[38] = AdvertFlagHasLocation
		binary.LittleEndian.PutUint32(buf[39:43], uint32(int32(math.Round(m.Lat*1e6))))
		binary.LittleEndian.PutUint32(buf[43:47], uint32(int32(math.Round(m.Lon*1e6))))
	}
	return append(buf, m.Name...)
}

func (m PathUpdated) Encode() []byte {
	buf := make([]byte, 8, 8+len(m.Path))
	buf[0] = byte(PushPathUpdated)
	buf[1] = byte(len(m.Path))
	copy(buf[2:8], m.Prefix[:])
	return append(buf, m.Path...)
}

func (m SendConfirmed) Encode() []byte {
	buf := make([]byte, 12)
	buf[0] = byte(PushSendConfirmed)
	buf[1] = m.PathLen
	copy(buf[2:8], m.Prefix[:])
	binary.LittleEndian.PutUint32(buf[8:12], m.RoundTripMillis)
	return buf
}

func (MsgWaiting) Encode() []byte { return []byte{byte(PushMsgWaiting)} }

func (m LoginSuccess) Encode() []byte {
	n := 10
	if m.HasACL {
		n = 11
	}
	buf := make([]byte, n)
	buf[0] = byte(m.Code())
	buf[1] = m.PathLen
	copy(buf[2:8], m.Prefix[:])
	binary.LittleEndian.PutUint16(buf[8:10], m.KeepaliveSecs)
	if m.HasACL {
		buf[10] = m.ACL
	}
	return buf
}

func (m LoginFail) Encode() []byte {
	buf := make([]byte, 8)
	buf[0] = byte(PushLoginFail)
	buf[1] = m.PathLen
	copy(buf[2:8], m.Prefix[:])
	return buf
}

func (m TraceData) Encode() []byte {
	buf := make([]byte, 6, 6+len(m.SNRs))
	buf[0] = byte(PushTraceData)
	buf[1] = m.Flags
	binary.LittleEndian.PutUint32(buf[2:6], m.Tag)
	for _, snr := range m.SNRs {
		buf = append(buf, byte(int8(math.Round(snr*4))))
	}
	return buf
}

func (m CLIResponse) Encode() []byte {
	buf := make([]byte, 8, 8+len(m.Text))
	buf[0] = byte(PushCLIResponse)
	buf[1] = m.PathLen
	copy(buf[2:8], m.Prefix[:])
	return append(buf, m.Text...)
}
