package peerconn

import (
	"fmt"
	"net"
	"time"

	"github.com/dog4ik/mediatorrent/internal/peerprotocol"
)

// handshakeTimeout bounds the Connecting/Handshaking lifecycle states.
const handshakeTimeout = 10 * time.Second

// Handshake performs the fixed 68-byte handshake over an already connected
// conn and returns the peer's reported id and whether it set the BEP 10
// extension bit.
// Any info-hash mismatch aborts the connection.
func Handshake(conn net.Conn, infoHash, ourPeerID [20]byte) (peerID [20]byte, fastExtension bool, err error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	out := peerprotocol.NewHandshake(infoHash, ourPeerID)
	raw := out.Bytes()
	if _, err := conn.Write(raw[:]); err != nil {
		return peerID, false, fmt.Errorf("peerconn: writing handshake: %w", err)
	}

	in, err := peerprotocol.ReadHandshake(conn)
	if err != nil {
		return peerID, false, err
	}
	if in.InfoHash != infoHash {
		return peerID, false, fmt.Errorf("peerconn: info-hash mismatch")
	}
	return in.PeerID, in.SupportsExtensions(), nil
}
