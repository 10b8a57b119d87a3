package peerprotocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/zeebo/bencode"
)

// ExtensionHandshake is the bencoded payload of extension message 0: the
// `m` dict maps extension name to the sender's local message id, plus any
// number of additional top-level fields (metadata_size, v, ...). Unknown
// extra keys are preserved verbatim on round-trip.
type ExtensionHandshake struct {
	M     map[string]int64
	Extra map[string]interface{}
}

// Well-known extension names this engine implements.
const (
	ExtensionNamePEX        = "ut_pex"
	ExtensionNameUtMetadata = "ut_metadata"
)

// NewExtensionHandshake builds a handshake advertising the given local
// extension ids, e.g. {"ut_metadata": 1, "ut_pex": 2}.
func NewExtensionHandshake(localIDs map[string]int64, clientVersion string, metadataSize int64) ExtensionHandshake {
	extra := map[string]interface{}{"v": clientVersion}
	if metadataSize > 0 {
		extra["metadata_size"] = metadataSize
	}
	return ExtensionHandshake{M: localIDs, Extra: extra}
}

// MetadataSize returns the advertised metadata_size field, if present.
func (h ExtensionHandshake) MetadataSize() (int64, bool) {
	v, ok := h.Extra["metadata_size"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// ClientVersion returns the advertised "v" field, if present.
func (h ExtensionHandshake) ClientVersion() (string, bool) {
	v, ok := h.Extra["v"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Marshal encodes the handshake as a bencoded dict.
func (h ExtensionHandshake) Marshal() ([]byte, error) {
	dict := make(map[string]interface{}, len(h.Extra)+1)
	for k, v := range h.Extra {
		dict[k] = v
	}
	m := make(map[string]interface{}, len(h.M))
	for k, v := range h.M {
		m[k] = v
	}
	dict["m"] = m
	return bencode.EncodeBytes(dict)
}

// UnmarshalExtensionHandshake decodes a bencoded extension handshake
// payload, preserving every field outside of "m" in Extra.
func UnmarshalExtensionHandshake(b []byte) (ExtensionHandshake, error) {
	var raw map[string]interface{}
	if err := bencode.NewDecoder(bytes.NewReader(b)).Decode(&raw); err != nil {
		return ExtensionHandshake{}, err
	}
	h := ExtensionHandshake{M: make(map[string]int64), Extra: make(map[string]interface{})}
	for k, v := range raw {
		if k == "m" {
			sub, ok := v.(map[string]interface{})
			if !ok {
				return ExtensionHandshake{}, errors.New("peerprotocol: extension handshake \"m\" is not a dict")
			}
			for name, id := range sub {
				n, ok := toInt64(id)
				if !ok {
					return ExtensionHandshake{}, fmt.Errorf("peerprotocol: extension id for %q is not an integer", name)
				}
				h.M[name] = n
			}
			continue
		}
		h.Extra[k] = v
	}
	return h, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// PexMessage is the ut_pex extension payload: added/dropped peer address
// lists, compact-encoded the same way as the tracker's compact peer list,
// plus an optional per-address flags byte string ("added.f").
type PexMessage struct {
	Added      []byte
	AddedFlags []byte
	Dropped    []byte
}

func (m PexMessage) Marshal() ([]byte, error) {
	dict := map[string]interface{}{
		"added":   string(m.Added),
		"dropped": string(m.Dropped),
	}
	if len(m.AddedFlags) > 0 {
		dict["added.f"] = string(m.AddedFlags)
	}
	return bencode.EncodeBytes(dict)
}

func UnmarshalPexMessage(b []byte) (PexMessage, error) {
	var raw struct {
		Added      string `bencode:"added"`
		AddedFlags string `bencode:"added.f"`
		Dropped    string `bencode:"dropped"`
	}
	if err := bencode.NewDecoder(bytes.NewReader(b)).Decode(&raw); err != nil {
		return PexMessage{}, err
	}
	return PexMessage{
		Added:      []byte(raw.Added),
		AddedFlags: []byte(raw.AddedFlags),
		Dropped:    []byte(raw.Dropped),
	}, nil
}

// UtMetadataMessageType is the msg_type field of a ut_metadata message.
type UtMetadataMessageType int64

const (
	UtMetadataRequest UtMetadataMessageType = 0
	UtMetadataData    UtMetadataMessageType = 1
	UtMetadataReject  UtMetadataMessageType = 2
)

// UtMetadataMessage is one ut_metadata extension payload. TotalSize is only
// meaningful (and only marshaled) for Data messages; Reject carries no
// total_size, matching the wire format.
type UtMetadataMessage struct {
	MsgType   UtMetadataMessageType
	Piece     int64
	TotalSize int64
}

func (m UtMetadataMessage) Marshal() ([]byte, error) {
	dict := map[string]interface{}{
		"msg_type": int64(m.MsgType),
		"piece":    m.Piece,
	}
	if m.MsgType == UtMetadataData {
		dict["total_size"] = m.TotalSize
	}
	return bencode.EncodeBytes(dict)
}

func UnmarshalUtMetadataMessage(b []byte) (UtMetadataMessage, error) {
	var raw struct {
		MsgType   int64 `bencode:"msg_type"`
		Piece     int64 `bencode:"piece"`
		TotalSize int64 `bencode:"total_size"`
	}
	if err := bencode.NewDecoder(bytes.NewReader(b)).Decode(&raw); err != nil {
		return UtMetadataMessage{}, err
	}
	t := UtMetadataMessageType(raw.MsgType)
	if t != UtMetadataRequest && t != UtMetadataData && t != UtMetadataReject {
		return UtMetadataMessage{}, fmt.Errorf("peerprotocol: unknown ut_metadata msg_type %d", raw.MsgType)
	}
	return UtMetadataMessage{MsgType: t, Piece: raw.Piece, TotalSize: raw.TotalSize}, nil
}
