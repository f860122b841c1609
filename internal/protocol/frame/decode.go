package frame

import (
	"encoding/binary"
	"fmt"
)

// Decode parses one inbound (response or push) frame. It never panics on
// arbitrary input: unknown codes yield ErrUnknownCode and frames below
// their code's minimum length yield ErrShortFrame, before any field is
// interpreted.
func Decode(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyFrame
	}
	code := Code(raw[0])
	min, ok := minInboundLen[code]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCode, raw[0])
	}
	if len(raw) < min {
		return nil, fmt.Errorf("%w: code=0x%02x len=%d min=%d", ErrShortFrame, raw[0], len(raw), min)
	}

	switch code {
	case RespOk:
		return Ok{}, nil
	case RespErr:
		return Err{Reason: raw[1]}, nil
	case RespContact:
		return decodeContactInfo(raw)
	case RespChannelInfo:
		return ChannelInfo{Index: raw[1], Flags: raw[2], Name: string(raw[3:])}, nil
	case PushAdvert:
		return decodeAdvert(raw), nil
	case PushPathUpdated:
		return decodePathUpdated(raw)
	case PushSendConfirmed:
		m := SendConfirmed{PathLen: raw[1], RoundTripMillis: binary.LittleEndian.Uint32(raw[8:12])}
		copy(m.Prefix[:], raw[2:8])
		return m, nil
	case PushMsgWaiting:
		return MsgWaiting{}, nil
	case PushLoginSuccess, PushLoginSuccessV2:
		m := LoginSuccess{
			PathLen:       raw[1],
			KeepaliveSecs: binary.LittleEndian.Uint16(raw[8:10]),
		}
		copy(m.Prefix[:], raw[2:8])
		if code == PushLoginSuccessV2 {
			m.HasACL = true
			m.ACL = raw[10]
		}
		return m, nil
	case PushLoginFail:
		m := LoginFail{PathLen: raw[1]}
		copy(m.Prefix[:], raw[2:8])
		return m, nil
	case PushTraceData:
		m := TraceData{Flags: raw[1], Tag: binary.LittleEndian.Uint32(raw[2:6])}
		for _, b := range raw[6:] {
			m.SNRs = append(m.SNRs, float64(int8(b))/4)
		}
		return m, nil
	case PushCLIResponse:
		m := CLIResponse{PathLen: raw[1], Text: string(raw[8:])}
		copy(m.Prefix[:], raw[2:8])
		return m, nil
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCode, raw[0])
}

// DecodeCommand parses one outbound command frame. Used by the codec
// round-trip tests and by bridge tooling that replays captured traffic.
func DecodeCommand(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyFrame
	}
	code := Code(raw[0])
	min, ok := minCommandLen[code]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCode, raw[0])
	}
	if len(raw) < min {
		return nil, fmt.Errorf("%w: code=0x%02x len=%d min=%d", ErrShortFrame, raw[0], len(raw), min)
	}

	switch code {
	case CmdAppStart:
		return AppStart{AppVersion: raw[1], Name: string(raw[2:])}, nil
	case CmdSendTxtMsg:
		m := TextMessage{
			TxtType:   raw[1],
			Attempt:   raw[2],
			Timestamp: binary.LittleEndian.Uint32(raw[3:7]),
			Text:      string(raw[13:]),
		}
		copy(m.Prefix[:], raw[7:13])
		return m, nil
	case CmdSendChannelTxtMsg:
		return ChannelTextMessage{
			TxtType:      raw[1],
			ChannelIndex: raw[2],
			Timestamp:    binary.LittleEndian.Uint32(raw[3:7]),
			Text:         string(raw[7:]),
		}, nil
	case CmdSendLogin:
		m := Login{Password: string(raw[33:])}
		copy(m.PublicKey[:], raw[1:33])
		return m, nil
	case CmdSendTracePath:
		m := TracePath{
			Tag:   binary.LittleEndian.Uint32(raw[1:5]),
			Auth:  binary.LittleEndian.Uint32(raw[5:9]),
			Flags: raw[9],
		}
		if len(raw) > 10 {
			if len(raw)-10 > MaxPathLen {
				return nil, fmt.Errorf("%w: %d hops", ErrPathTooLong, len(raw)-10)
			}
			m.Path = append([]byte(nil), raw[10:]...)
		}
		return m, nil
	case CmdSendCLI:
		m := CLICommand{Text: string(raw[33:])}
		copy(m.PublicKey[:], raw[1:33])
		return m, nil
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCode, raw[0])
}

func decodeContactInfo(raw []byte) (Message, error) {
	pathLen := int(raw[34])
	if pathLen > MaxPathLen {
		return nil, fmt.Errorf("%w: %d hops", ErrPathTooLong, pathLen)
	}
	if len(raw) < 39+pathLen {
		return nil, fmt.Errorf("%w: code=0x%02x len=%d path=%d", ErrShortFrame, raw[0], len(raw), pathLen)
	}
	m := ContactInfo{
		Kind:     raw[33],
		LastSeen: binary.LittleEndian.Uint32(raw[35+pathLen : 39+pathLen]),
		Name:     string(raw[39+pathLen:]),
	}
	copy(m.PublicKey[:], raw[1:33])
	if pathLen > 0 {
		m.OutPath = append([]byte(nil), raw[35:35+pathLen]...)
	}
	return m, nil
}

func decodePathUpdated(raw []byte) (Message, error) {
	pathLen := int(raw[1])
	if pathLen > MaxPathLen {
		return nil, fmt.Errorf("%w: %d hops", ErrPathTooLong, pathLen)
	}
	if len(raw) < 8+pathLen {
		return nil, fmt.Errorf("%w: code=0x%02x len=%d path=%d", ErrShortFrame, raw[0], len(raw), pathLen)
	}
	var m PathUpdated
	copy(m.Prefix[:], raw[2:8])
	if pathLen > 0 {
		m.Path = append([]byte(nil), raw[8:8+pathLen]...)
	}
	return m, nil
}

func decodeAdvert(raw []byte) Message {
	m := Advert{
		Kind:      raw[1],
		Timestamp: binary.LittleEndian.Uint32(raw[34:38]),
		Name:      string(raw[47:]),
	}
	copy(m.PublicKey[:], raw[2:34])
	if raw[38]&AdvertFlagHasLocation != 0 {
		m.HasLocation = true
		m.Lat = float64(int32(binary.LittleEndian.Uint32(raw[39:43]))) / 1e6
		m.Lon = float64(int32(binary.LittleEndian.Uint32(raw[43:47]))) / 1e6
	}
	return m
}
