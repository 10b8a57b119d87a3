package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"
)

const (
	udpProtocolMagic  = 0x41727101980
	actionConnect     = 0
	actionAnnounce    = 1
	actionError       = 3
	udpRequestTimeout = 15 * time.Second
)

type udpClient struct {
	addr string
	raw  string
}

func (c *udpClient) URL() string { return c.raw }

func (c *udpClient) Announce(ctx context.Context, req AnnounceRequest) (AnnounceResponse, error) {
	conn, err := net.Dial("udp", c.addr)
	if err != nil {
		return AnnounceResponse{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(udpRequestTimeout))

	connID, err := c.connect(conn)
	if err != nil {
		return AnnounceResponse{}, err
	}
	return c.announce(conn, connID, req)
}

func (c *udpClient) connect(conn net.Conn) (uint64, error) {
	transactionID := rand.Uint32()
	pkt := make([]byte, 16)
	binary.BigEndian.PutUint64(pkt[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(pkt[8:12], actionConnect)
	binary.BigEndian.PutUint32(pkt[12:16], transactionID)

	if _, err := conn.Write(pkt); err != nil {
		return 0, err
	}
	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, fmt.Errorf("tracker: short connect response")
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != transactionID {
		return 0, fmt.Errorf("tracker: transaction id mismatch")
	}
	if action == actionError {
		return 0, fmt.Errorf("tracker: connect error: %s", resp[8:n])
	}
	if action != actionConnect {
		return 0, fmt.Errorf("tracker: unexpected connect action %d", action)
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func (c *udpClient) announce(conn net.Conn, connID uint64, req AnnounceRequest) (AnnounceResponse, error) {
	transactionID := rand.Uint32()
	pkt := make([]byte, 98)
	binary.BigEndian.PutUint64(pkt[0:8], connID)
	binary.BigEndian.PutUint32(pkt[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(pkt[12:16], transactionID)
	copy(pkt[16:36], req.InfoHash[:])
	copy(pkt[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(pkt[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(pkt[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(pkt[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(pkt[80:84], udpEventCode(req.Event))
	// ip address (0 = default), key (random), num_want (-1 = default), port
	binary.BigEndian.PutUint32(pkt[84:88], 0)
	binary.BigEndian.PutUint32(pkt[88:92], rand.Uint32())
	numWant := int32(-1)
	if req.NumWant > 0 {
		numWant = int32(req.NumWant)
	}
	binary.BigEndian.PutUint32(pkt[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(pkt[96:98], req.Port)

	if _, err := conn.Write(pkt); err != nil {
		return AnnounceResponse{}, err
	}

	resp := make([]byte, 20+6*100)
	n, err := conn.Read(resp)
	if err != nil {
		return AnnounceResponse{}, err
	}
	if n < 20 {
		return AnnounceResponse{}, fmt.Errorf("tracker: short announce response")
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != transactionID {
		return AnnounceResponse{}, fmt.Errorf("tracker: transaction id mismatch")
	}
	if action == actionError {
		return AnnounceResponse{}, fmt.Errorf("tracker: announce error: %s", resp[8:n])
	}
	if action != actionAnnounce {
		return AnnounceResponse{}, fmt.Errorf("tracker: unexpected announce action %d", action)
	}

	interval := binary.BigEndian.Uint32(resp[8:12])
	leechers := binary.BigEndian.Uint32(resp[12:16])
	seeders := binary.BigEndian.Uint32(resp[16:20])
	peers, err := decompactPeers(resp[20:n])
	if err != nil {
		return AnnounceResponse{}, err
	}
	return AnnounceResponse{
		Interval: time.Duration(interval) * time.Second,
		Peers:    peers,
		Leechers: int(leechers),
		Seeders:  int(seeders),
	}, nil
}

func udpEventCode(e Event) uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}
