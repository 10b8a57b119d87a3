package trackermanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/dog4ik/mediatorrent/internal/logger"
	"github.com/dog4ik/mediatorrent/internal/tracker"
)

func announceServer(t *testing.T, peers []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"interval": int64(1800),
			"peers":    string(peers),
		}
		b, _ := bencode.EncodeBytes(resp)
		w.Write(b)
	}))
}

func TestTickAnnouncesDueTrackersAndPublishesPeers(t *testing.T) {
	srv := announceServer(t, []byte{1, 2, 3, 4, 0x1A, 0xE1})
	defer srv.Close()

	var infoHash, peerID [20]byte
	m := New([]string{srv.URL}, infoHash, peerID, 6881, logger.New("test"))

	m.Tick(context.Background(), time.Now(), tracker.EventStarted, 0, 0, 100)

	select {
	case found := <-m.Found():
		require.Equal(t, []string{"1.2.3.4:6881"}, found.Addrs)
	case <-time.After(time.Second):
		t.Fatal("expected peers to be published")
	}

	states := m.States()
	require.Len(t, states, 1)
	require.Equal(t, 0, states[0].ConsecutiveErr)
}

func TestTickSkipsNotYetDueTrackers(t *testing.T) {
	srv := announceServer(t, nil)
	defer srv.Close()

	var infoHash, peerID [20]byte
	m := New([]string{srv.URL}, infoHash, peerID, 6881, logger.New("test"))

	now := time.Now()
	m.Tick(context.Background(), now, tracker.EventStarted, 0, 0, 100)
	// Second tick right away should be a no-op since interval is 1800s.
	m.Tick(context.Background(), now.Add(time.Second), tracker.EventNone, 0, 0, 100)

	require.Len(t, m.entries, 1)
	require.True(t, m.States()[0].LastAnnounced.Equal(now))
}

func TestBackoffGrowsOnRepeatedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var infoHash, peerID [20]byte
	m := New([]string{srv.URL}, infoHash, peerID, 6881, logger.New("test"))

	now := time.Now()
	m.Tick(context.Background(), now, tracker.EventStarted, 0, 0, 100)
	first := m.entries[0].backoff

	now = m.entries[0].nextTime.Add(time.Second)
	m.Tick(context.Background(), now, tracker.EventNone, 0, 0, 100)
	second := m.entries[0].backoff

	require.Greater(t, second, first)
	require.Equal(t, 2, m.States()[0].ConsecutiveErr)
}

func TestInvalidTrackerURLIsSkipped(t *testing.T) {
	var infoHash, peerID [20]byte
	m := New([]string{"ftp://bad.example"}, infoHash, peerID, 6881, logger.New("test"))
	require.Empty(t, m.entries)
}
