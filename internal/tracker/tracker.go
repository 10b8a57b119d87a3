// Package tracker implements announce clients for the HTTP and UDP tracker
// protocols: periodic "give me peers" requests carrying upload/download/left
// byte counters.
package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"
)

// Event is the announce event field.
type Event string

const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// AnnounceRequest carries the counters and identity the tracker needs.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// AnnounceResponse is what the tracker returned: the announce interval and a
// compact peer list.
type AnnounceResponse struct {
	Interval time.Duration
	Peers    []string // "ip:port"
	Leechers int
	Seeders  int
}

// Client announces over one tracker URL, HTTP or UDP depending on scheme.
type Client interface {
	Announce(ctx context.Context, req AnnounceRequest) (AnnounceResponse, error)
	URL() string
}

// New returns the appropriate Client implementation for rawURL's scheme.
func New(rawURL string) (Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: invalid url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return &httpClient{url: u, httpClient: &http.Client{Timeout: 30 * time.Second}}, nil
	case "udp":
		return &udpClient{addr: u.Host, raw: rawURL}, nil
	default:
		return nil, fmt.Errorf("tracker: unsupported scheme %q", u.Scheme)
	}
}

type httpClient struct {
	url        *url.URL
	httpClient *http.Client
}

func (c *httpClient) URL() string { return c.url.String() }

func (c *httpClient) Announce(ctx context.Context, req AnnounceRequest) (AnnounceResponse, error) {
	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(int(req.Port)))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	if req.Event != EventNone {
		q.Set("event", string(req.Event))
	}
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}

	u := *c.url
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return AnnounceResponse{}, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return AnnounceResponse{}, err
	}
	defer resp.Body.Close()

	var raw struct {
		FailureReason string `bencode:"failure reason"`
		Interval      int64  `bencode:"interval"`
		Complete      int    `bencode:"complete"`
		Incomplete    int    `bencode:"incomplete"`
		Peers         string `bencode:"peers"`
	}
	if err := bencode.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return AnnounceResponse{}, fmt.Errorf("tracker: decoding response: %w", err)
	}
	if raw.FailureReason != "" {
		return AnnounceResponse{}, fmt.Errorf("tracker: %s", raw.FailureReason)
	}

	peers, err := decompactPeers([]byte(raw.Peers))
	if err != nil {
		return AnnounceResponse{}, err
	}

	return AnnounceResponse{
		Interval: time.Duration(raw.Interval) * time.Second,
		Peers:    peers,
		Seeders:  raw.Complete,
		Leechers: raw.Incomplete,
	}, nil
}

// decompactPeers unpacks a compact peer list: 6 bytes per peer, 4-byte IPv4
// address followed by a 2-byte big-endian port.
func decompactPeers(b []byte) ([]string, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("tracker: invalid compact peers length %d", len(b))
	}
	out := make([]string, 0, len(b)/6)
	for i := 0; i+6 <= len(b); i += 6 {
		ip := fmt.Sprintf("%d.%d.%d.%d", b[i], b[i+1], b[i+2], b[i+3])
		port := int(b[i+4])<<8 | int(b[i+5])
		out = append(out, fmt.Sprintf("%s:%d", ip, port))
	}
	return out, nil
}
