// Package resumer persists per-torrent resume data (bitfield and transfer
// stats) to a boltdb database so a restarted engine can skip re-validating
// pieces it already has.
package resumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/dog4ik/mediatorrent/internal/bitfield"
)

var bucketName = []byte("torrents")

// Stats is the subset of transfer counters worth surviving a restart.
type Stats struct {
	BytesDownloaded int64         `json:"bytes_downloaded"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesWasted     int64         `json:"bytes_wasted"`
	SeededFor       time.Duration `json:"seeded_for"`
}

type record struct {
	BitfieldBytes []byte `json:"bitfield"`
	NumPieces     int    `json:"num_pieces"`
	Stats         Stats  `json:"stats"`
}

// Resumer is a boltdb-backed store keyed by info-hash.
type Resumer struct {
	db *bolt.DB
}

// New opens (creating if necessary) the resume database at path.
func New(path string) (*Resumer, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("resumer: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Resumer{db: db}, nil
}

func (r *Resumer) Close() error {
	return r.db.Close()
}

// Save writes bf and stats for infoHash, overwriting any previous entry.
func (r *Resumer) Save(infoHash [20]byte, bf *bitfield.BitField, stats Stats) error {
	rec := record{
		BitfieldBytes: bf.Bytes(),
		NumPieces:     bf.Len(),
		Stats:         stats,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(infoHash[:], b)
	})
}

// Load reads back the bitfield and stats for infoHash. ok is false if no
// resume data exists yet.
func (r *Resumer) Load(infoHash [20]byte) (bf *bitfield.BitField, stats Stats, ok bool, err error) {
	err = r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(infoHash[:])
		if v == nil {
			return nil
		}
		var rec record
		if unmarshalErr := json.Unmarshal(v, &rec); unmarshalErr != nil {
			return unmarshalErr
		}
		parsed, parseErr := bitfield.NewBytes(rec.BitfieldBytes, rec.NumPieces)
		if parseErr != nil {
			return parseErr
		}
		bf, stats, ok = parsed, rec.Stats, true
		return nil
	})
	return bf, stats, ok, err
}

// Delete removes any resume data for infoHash.
func (r *Resumer) Delete(infoHash [20]byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(infoHash[:])
	})
}

// List returns every info-hash with stored resume data.
func (r *Resumer) List() ([][20]byte, error) {
	var out [][20]byte
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			if len(k) != 20 {
				return nil
			}
			var h [20]byte
			copy(h[:], k)
			out = append(out, h)
			return nil
		})
	})
	return out, err
}
