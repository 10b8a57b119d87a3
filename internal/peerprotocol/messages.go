// Package peerprotocol implements the BitTorrent peer wire protocol: the
// fixed handshake record, the 4-byte length-prefixed message frames, and the
// BEP 10 extension messages (PEX, ut_metadata) carried under tag 20.
package peerprotocol

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the 1-byte tag that follows a non-zero-length frame.
type MessageType byte

const (
	Choke         MessageType = 0
	Unchoke       MessageType = 1
	Interested    MessageType = 2
	NotInterested MessageType = 3
	Have          MessageType = 4
	Bitfield      MessageType = 5
	Request       MessageType = 6
	Piece         MessageType = 7
	Cancel        MessageType = 8
	Extension     MessageType = 20
)

func (m MessageType) String() string {
	switch m {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Extension:
		return "extension"
	default:
		return fmt.Sprintf("unknown(%d)", byte(m))
	}
}

// MaxFrameLength bounds a single message frame (header + payload). Frames
// larger than this are a fatal codec error.
const MaxFrameLength = 64*1024 + 13

// ExtensionMessageID identifies the payload of an Extension frame.
// ID 0 is reserved for the extension handshake itself.
type ExtensionMessageID byte

const (
	ExtensionHandshakeID ExtensionMessageID = 0
)

// Message is implemented by every decoded wire message.
type Message interface {
	Type() MessageType
}

type ChokeMessage struct{}

func (ChokeMessage) Type() MessageType { return Choke }

type UnchokeMessage struct{}

func (UnchokeMessage) Type() MessageType { return Unchoke }

type InterestedMessage struct{}

func (InterestedMessage) Type() MessageType { return Interested }

type NotInterestedMessage struct{}

func (NotInterestedMessage) Type() MessageType { return NotInterested }

// HaveMessage announces piece Index has been fully downloaded and verified.
type HaveMessage struct {
	Index uint32
}

func (HaveMessage) Type() MessageType { return Have }

// BitfieldMessage carries the peer's packed piece set.
type BitfieldMessage struct {
	Data []byte
}

func (BitfieldMessage) Type() MessageType { return Bitfield }

// RequestMessage asks for Length bytes of piece Index starting at Begin.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (RequestMessage) Type() MessageType { return Request }

// PieceMessage is a block of piece Index starting at Begin; Block holds the
// raw bytes (not including the 8-byte header).
type PieceMessage struct {
	Index, Begin uint32
	Block        []byte
}

func (PieceMessage) Type() MessageType { return Piece }

// CancelMessage withdraws a previously sent RequestMessage.
type CancelMessage struct {
	Index, Begin, Length uint32
}

func (CancelMessage) Type() MessageType { return Cancel }

// ExtensionMessage is any tag-20 frame: ExtensionID selects the payload
// (0 = handshake), Payload is the remaining bytes (bencoded).
type ExtensionMessage struct {
	ExtensionID ExtensionMessageID
	Payload     []byte
}

func (ExtensionMessage) Type() MessageType { return Extension }

// Encode serializes m into a ready-to-write frame, 4-byte length prefix
// included.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case ChokeMessage:
		return frame(Choke, nil), nil
	case UnchokeMessage:
		return frame(Unchoke, nil), nil
	case InterestedMessage:
		return frame(Interested, nil), nil
	case NotInterestedMessage:
		return frame(NotInterested, nil), nil
	case HaveMessage:
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, v.Index)
		return frame(Have, payload), nil
	case BitfieldMessage:
		return frame(Bitfield, v.Data), nil
	case RequestMessage:
		payload := make([]byte, 12)
		binary.BigEndian.PutUint32(payload[0:4], v.Index)
		binary.BigEndian.PutUint32(payload[4:8], v.Begin)
		binary.BigEndian.PutUint32(payload[8:12], v.Length)
		return frame(Request, payload), nil
	case PieceMessage:
		payload := make([]byte, 8+len(v.Block))
		binary.BigEndian.PutUint32(payload[0:4], v.Index)
		binary.BigEndian.PutUint32(payload[4:8], v.Begin)
		copy(payload[8:], v.Block)
		return frame(Piece, payload), nil
	case CancelMessage:
		payload := make([]byte, 12)
		binary.BigEndian.PutUint32(payload[0:4], v.Index)
		binary.BigEndian.PutUint32(payload[4:8], v.Begin)
		binary.BigEndian.PutUint32(payload[8:12], v.Length)
		return frame(Cancel, payload), nil
	case ExtensionMessage:
		payload := make([]byte, 1+len(v.Payload))
		payload[0] = byte(v.ExtensionID)
		copy(payload[1:], v.Payload)
		return frame(Extension, payload), nil
	default:
		return nil, fmt.Errorf("peerprotocol: unknown message type %T", m)
	}
}

// KeepAlive returns the zero-length heartbeat frame.
func KeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

func frame(t MessageType, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(1+len(payload)))
	out[4] = byte(t)
	copy(out[5:], payload)
	return out
}

// Decode parses a frame's payload (everything after the 4-byte length
// prefix and, if non-empty, the 1-byte tag already consumed into t) back
// into a Message.
func Decode(t MessageType, payload []byte) (Message, error) {
	switch t {
	case Choke:
		return ChokeMessage{}, nil
	case Unchoke:
		return UnchokeMessage{}, nil
	case Interested:
		return InterestedMessage{}, nil
	case NotInterested:
		return NotInterestedMessage{}, nil
	case Have:
		if len(payload) != 4 {
			return nil, fmt.Errorf("peerprotocol: invalid have payload length %d", len(payload))
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case Bitfield:
		data := make([]byte, len(payload))
		copy(data, payload)
		return BitfieldMessage{Data: data}, nil
	case Request:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerprotocol: invalid request payload length %d", len(payload))
		}
		return RequestMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case Piece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("peerprotocol: invalid piece payload length %d", len(payload))
		}
		block := make([]byte, len(payload)-8)
		copy(block, payload[8:])
		return PieceMessage{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Block: block,
		}, nil
	case Cancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerprotocol: invalid cancel payload length %d", len(payload))
		}
		return CancelMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case Extension:
		if len(payload) < 1 {
			return nil, fmt.Errorf("peerprotocol: empty extension payload")
		}
		rest := make([]byte, len(payload)-1)
		copy(rest, payload[1:])
		return ExtensionMessage{ExtensionID: ExtensionMessageID(payload[0]), Payload: rest}, nil
	default:
		return nil, fmt.Errorf("peerprotocol: unknown message tag %d", byte(t))
	}
}
