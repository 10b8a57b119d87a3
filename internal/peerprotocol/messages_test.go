package peerprotocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	encoded, err := Encode(m)
	require.NoError(t, err)

	typ, decoded, err := ReadMessage(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, m.Type(), typ)
	return decoded
}

func TestRoundTripSimpleMessages(t *testing.T) {
	require.Equal(t, ChokeMessage{}, roundTrip(t, ChokeMessage{}))
	require.Equal(t, UnchokeMessage{}, roundTrip(t, UnchokeMessage{}))
	require.Equal(t, InterestedMessage{}, roundTrip(t, InterestedMessage{}))
	require.Equal(t, NotInterestedMessage{}, roundTrip(t, NotInterestedMessage{}))
}

func TestRoundTripHave(t *testing.T) {
	require.Equal(t, HaveMessage{Index: 42}, roundTrip(t, HaveMessage{Index: 42}))
}

func TestRoundTripBitfieldArbitraryLength(t *testing.T) {
	for _, data := range [][]byte{{}, {0xFF}, {0x00, 0xAB, 0xCD, 0xEF}} {
		require.Equal(t, BitfieldMessage{Data: data}, roundTrip(t, BitfieldMessage{Data: data}))
	}
}

func TestRoundTripRequestAndCancel(t *testing.T) {
	req := RequestMessage{Index: 1, Begin: 2, Length: 16384}
	require.Equal(t, req, roundTrip(t, req))

	cancel := CancelMessage{Index: 1, Begin: 2, Length: 16384}
	require.Equal(t, cancel, roundTrip(t, cancel))
}

func TestRoundTripPieceWithEmptyPayload(t *testing.T) {
	empty := PieceMessage{Index: 3, Begin: 0, Block: []byte{}}
	got := roundTrip(t, empty).(PieceMessage)
	require.Equal(t, empty.Index, got.Index)
	require.Equal(t, empty.Begin, got.Begin)
	require.Empty(t, got.Block)

	withData := PieceMessage{Index: 3, Begin: 16384, Block: []byte("hello block")}
	require.Equal(t, withData, roundTrip(t, withData))
}

func TestRoundTripExtension(t *testing.T) {
	msg := ExtensionMessage{ExtensionID: ExtensionHandshakeID, Payload: []byte("d1:md11:ut_metadatai1eee")}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestFrameTooLargeIsRejected(t *testing.T) {
	big := make([]byte, MaxFrameLength+1)
	_, _, err := ReadMessage(bytes.NewReader(append(
		[]byte{0xFF, 0xFF, 0xFF, 0xFF}, big...,
	)))
	require.Error(t, err)
}

func TestKeepAliveIsZeroLengthFrame(t *testing.T) {
	typ, msg, err := ReadMessage(bytes.NewReader(KeepAlive()))
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Equal(t, MessageType(0), typ)
}

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "bbbbbbbbbbbbbbbbbbbb")

	h := NewHandshake(infoHash, peerID)
	require.True(t, h.SupportsExtensions())

	raw := h.Bytes()
	got, err := ReadHandshake(bytes.NewReader(raw[:]))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestHandshakeRejectsBadProtocolString(t *testing.T) {
	var buf [HandshakeLength]byte
	buf[0] = 19
	copy(buf[1:20], "NotBitTorrent proto")
	_, err := ReadHandshake(bytes.NewReader(buf[:]))
	require.Error(t, err)
}

func TestExtensionHandshakeRoundTripPreservesUnknownKeys(t *testing.T) {
	h := ExtensionHandshake{
		M: map[string]int64{"ut_metadata": 1, "ut_pex": 2},
		Extra: map[string]interface{}{
			"v":             "mediatorrent/1.0",
			"metadata_size": int64(16384),
			"reqq":          int64(500),
		},
	}
	b, err := h.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalExtensionHandshake(b)
	require.NoError(t, err)
	require.Equal(t, h.M, got.M)

	size, ok := got.MetadataSize()
	require.True(t, ok)
	require.Equal(t, int64(16384), size)

	v, ok := got.ClientVersion()
	require.True(t, ok)
	require.Equal(t, "mediatorrent/1.0", v)

	require.Equal(t, int64(500), got.Extra["reqq"])
}

func TestPexMessageRoundTrip(t *testing.T) {
	m := PexMessage{Added: []byte{1, 2, 3, 4, 0x1A, 0xE1}, AddedFlags: []byte{0x02}, Dropped: []byte{9, 9, 9, 9, 0x00, 0x50}}
	b, err := m.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalPexMessage(b)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestUtMetadataRejectCarriesNoTotalSize(t *testing.T) {
	m := UtMetadataMessage{MsgType: UtMetadataReject, Piece: 7}
	b, err := m.Marshal()
	require.NoError(t, err)
	require.NotContains(t, string(b), "total_size")

	got, err := UnmarshalUtMetadataMessage(b)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestUtMetadataDataRoundTrip(t *testing.T) {
	m := UtMetadataMessage{MsgType: UtMetadataData, Piece: 2, TotalSize: 16384}
	b, err := m.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalUtMetadataMessage(b)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestUtMetadataUnknownMsgTypeRejected(t *testing.T) {
	_, err := UnmarshalUtMetadataMessage([]byte("d8:msg_typei9e5:piecei0ee"))
	require.Error(t, err)
}
