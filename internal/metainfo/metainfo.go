// Package metainfo provides read support for torrent files: the Info
// dictionary (piece hashes, file layout, piece length) and the surrounding
// .torrent MetaInfo wrapper.
package metainfo

import (
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// MetaInfo file dictionary
type MetaInfo struct {
	// TODO implement UnmarshalBencode([]byte) error for Info and remove RawInfo.
	Info         *Info              `bencode:"-"`
	RawInfo      bencode.RawMessage `bencode:"info" json:"-"`
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	CreationDate int64              `bencode:"creation date"`
	Comment      string             `bencode:"comment"`
	CreatedBy    string             `bencode:"created by"`
	Encoding     string             `bencode:"encoding"`
}

// New returns a torrent from bencoded stream.
func New(r io.Reader) (*MetaInfo, error) {
	var t MetaInfo
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.RawInfo) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	t.Info, err = NewInfo(t.RawInfo)
	return &t, err
}

// GetTrackers flattens Announce + AnnounceList into one ordered, deduplicated
// list, Announce first.
func (t *MetaInfo) GetTrackers() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(t.Announce)
	for _, tier := range t.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return out
}
