package peerprotocol

import (
	"errors"
	"fmt"
	"io"
)

// HandshakeLength is the fixed size of the BitTorrent handshake record.
const HandshakeLength = 68

const protocolString = "BitTorrent protocol"

// extensionReservedByte, extensionReservedBit: bit 0x10 of reserved byte 5
// (0-indexed from the start of the 8 reserved bytes) signals BEP 10 support,
// matching the original implementation's reserved[5] |= 0x10.
const (
	extensionReservedByte = 5
	extensionReservedBit  = 0x10
)

// HandShake is the 68-byte preamble exchanged before any length-prefixed
// message: length byte (19), the protocol string, 8 reserved bytes, the
// info-hash, and the sender's peer-id.
type HandShake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake advertising extension-protocol support.
func NewHandshake(infoHash, peerID [20]byte) HandShake {
	h := HandShake{InfoHash: infoHash, PeerID: peerID}
	h.Reserved[extensionReservedByte] |= extensionReservedBit
	return h
}

// SupportsExtensions reports whether the BEP 10 extension bit is set.
func (h HandShake) SupportsExtensions() bool {
	return h.Reserved[extensionReservedByte]&extensionReservedBit != 0
}

// Bytes serializes the handshake to its 68-byte wire form.
func (h HandShake) Bytes() [HandshakeLength]byte {
	var out [HandshakeLength]byte
	out[0] = 19
	copy(out[1:20], protocolString)
	copy(out[20:28], h.Reserved[:])
	copy(out[28:48], h.InfoHash[:])
	copy(out[48:68], h.PeerID[:])
	return out
}

// ReadHandshake reads and validates a 68-byte handshake record from r.
func ReadHandshake(r io.Reader) (HandShake, error) {
	var buf [HandshakeLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return HandShake{}, fmt.Errorf("peerprotocol: reading handshake: %w", err)
	}
	if buf[0] != 19 {
		return HandShake{}, fmt.Errorf("peerprotocol: invalid handshake length byte %d", buf[0])
	}
	if string(buf[1:20]) != protocolString {
		return HandShake{}, errors.New("peerprotocol: invalid protocol string")
	}
	var h HandShake
	copy(h.Reserved[:], buf[20:28])
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, nil
}
