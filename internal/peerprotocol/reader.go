package peerprotocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadMessage reads one frame from r: the 4-byte length prefix, followed by
// tag + payload if the length is non-zero. A zero-length frame is a
// heartbeat and is reported by returning (0, nil, nil).
func ReadMessage(r io.Reader) (MessageType, Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, nil, nil
	}
	if length > MaxFrameLength {
		return 0, nil, fmt.Errorf("peerprotocol: frame length %d exceeds maximum %d", length, MaxFrameLength)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	t := MessageType(buf[0])
	msg, err := Decode(t, buf[1:])
	if err != nil {
		return 0, nil, err
	}
	return t, msg, nil
}
