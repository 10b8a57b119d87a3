// Package mediatorrent is the per-torrent BitTorrent download engine
// embedded in a media server: it coordinates peer connections, schedules
// piece/block requests, assembles and verifies pieces, and seeds completed
// pieces back to peers.
package mediatorrent

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dog4ik/mediatorrent/internal/bitfield"
	"github.com/dog4ik/mediatorrent/internal/logger"
	"github.com/dog4ik/mediatorrent/internal/peer"
	"github.com/dog4ik/mediatorrent/internal/peerconn"
	"github.com/dog4ik/mediatorrent/internal/peerprotocol"
	"github.com/dog4ik/mediatorrent/internal/peerstorage"
	"github.com/dog4ik/mediatorrent/internal/pex"
	"github.com/dog4ik/mediatorrent/internal/piece"
	"github.com/dog4ik/mediatorrent/internal/resumer"
	"github.com/dog4ik/mediatorrent/internal/scheduler"
	"github.com/dog4ik/mediatorrent/internal/seeder"
	"github.com/dog4ik/mediatorrent/internal/storage"
	"github.com/dog4ik/mediatorrent/internal/tracker"
	"github.com/dog4ik/mediatorrent/internal/trackermanager"
)

// pexAnnounceInterval is how often a PEX payload is sent to every peer that
// advertised the extension.
const pexAnnounceInterval = 90 * time.Second

// Download is the engine for one torrent. Construct with New and drive it
// with Run; every other public method communicates with the running engine
// over its command channel.
type Download struct {
	peerID [20]byte
	params Params
	config Config
	log    logger.Logger

	scheduler   *scheduler.Scheduler
	storage     *storage.Handle
	trackerMgr  *trackermanager.Manager
	peerStorage *peerstorage.Storage
	pexHistory  *pex.History
	seeder      *seeder.Seeder
	resumer     *resumer.Resumer

	conns map[string]*peerconn.Conn

	commandC    chan command
	progressC   chan Progress
	newConnC    chan net.Conn
	peerEventsC chan peerconn.Event

	state  State
	tick   uint64
	lastPex time.Time

	downloadedTotal int64
	uploadedTotal   int64
	wasted          int64
	baseSeededFor   time.Duration
	seedStart       time.Time

	changes []StateChange

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Download; it does not start running until Run is
// called.
func New(params Params, cfg Config, peerID [20]byte, l logger.Logger) *Download {
	have := params.Have

	var res *resumer.Resumer
	var prior resumer.Stats
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			l.Warningf("resume: cannot create data dir %s: %v", cfg.DataDir, err)
		} else if r, err := resumer.New(filepath.Join(cfg.DataDir, "resume.db")); err != nil {
			l.Warningf("resume: cannot open resume database: %v", err)
		} else {
			res = r
			if have == nil {
				if bf, stats, ok, err := res.Load(params.Info.Hash); err == nil && ok {
					have = bf
					prior = stats
				}
			}
		}
	}
	if have == nil {
		have = bitfield.New(params.Info.NumPieces())
	}

	storageHandle := storage.New(params.OutputDir, params.Info, l.WithField("component", "storage"))

	trackerMgr := trackermanager.New(params.TrackerURLs, params.Info.Hash, peerID, cfg.Port, l.WithField("component", "tracker"))

	peerStore := peerstorage.New()
	for _, addr := range params.KnownPeers {
		peerStore.Add(addr, peerstorage.SourceTracker)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &Download{
		peerID:      peerID,
		params:      params,
		config:      cfg,
		log:         l,
		scheduler:   scheduler.New(params.Info, have),
		storage:     storageHandle,
		trackerMgr:  trackerMgr,
		peerStorage: peerStore,
		pexHistory:    pex.New(),
		seeder:        seeder.New(),
		resumer:         res,
		downloadedTotal: prior.BytesDownloaded,
		uploadedTotal:   prior.BytesUploaded,
		wasted:          prior.BytesWasted,
		baseSeededFor:   prior.SeededFor,
		conns:         make(map[string]*peerconn.Conn),
		commandC:      make(chan command, 16),
		progressC:     make(chan Progress, 4),
		newConnC:      make(chan net.Conn, 16),
		peerEventsC:   make(chan peerconn.Event, 4096),
		state:         StatePending,
		group:         group,
		ctx:           ctx,
		cancel:        cancel,
	}
	return d
}

// Progress returns the channel of per-tick progress snapshots.
func (d *Download) Progress() <-chan Progress {
	return d.progressC
}

// AcceptConn hands a post-handshake, post-preamble connection to the engine,
// matching the listener interface's NewPeer::ListenerOrigin.
func (d *Download) AcceptConn(conn net.Conn) {
	select {
	case d.newConnC <- conn:
	case <-d.ctx.Done():
	}
}


func (d *Download) maxConnections() int {
	if d.params.MaxConnections > 0 {
		return d.params.MaxConnections
	}
	return d.config.MaxConnectionsPerTorrent
}

// Run drives the engine's event loop until Abort is called or a fatal
// storage error occurs. It blocks; callers run it in its own goroutine.
func (d *Download) Run() {
	defer d.shutdown()

	tickInterval := d.config.TickInterval
	if tickInterval <= 0 {
		tickInterval = DefaultConfig.TickInterval
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case cmd := <-d.commandC:
			if d.handleCommand(cmd) {
				return
			}
		case conn := <-d.newConnC:
			d.handleNewConn(conn)
		case ev := <-d.peerEventsC:
			d.handlePeerEvent(ev)
		case found := <-d.trackerMgr.Found():
			d.handleTrackerPeers(found)
		case fb := <-d.storage.Results():
			d.handleStorageFeedback(fb)
		case <-ticker.C:
			d.onTick()
		}
	}
}

func (d *Download) shutdown() {
	d.cancel()
	for _, c := range d.conns {
		c.Close()
	}
	_ = d.group.Wait()
	d.saveResume()
	if d.resumer != nil {
		d.resumer.Close()
	}
	d.storage.Close()
}

// saveResume persists the current bitfield and cumulative transfer stats, a
// no-op if no resume database was opened (e.g. Config.DataDir is unset).
func (d *Download) saveResume() {
	if d.resumer == nil {
		return
	}
	stats := resumer.Stats{
		BytesDownloaded: d.downloadedTotal,
		BytesUploaded:   d.uploadedTotal,
		BytesWasted:     d.wasted,
		SeededFor:       d.seededFor(),
	}
	if err := d.resumer.Save(d.params.Info.Hash, d.scheduler.Bitfield(), stats); err != nil {
		d.log.Warningf("resume: save failed: %v", err)
	}
}

// handleCommand applies one inbound command; returns true if the engine
// should stop running.
func (d *Download) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdSetStrategy:
		d.scheduler.SetStrategy(cmd.strategy)
	case cmdSetFilePriority:
		d.scheduler.ChangeFilePriority(cmd.filePriority.FileIndex, cmd.filePriority.Priority)
		fp := cmd.filePriority
		d.recordChange(StateChange{FilePriorityChange: &fp})
	case cmdPostFullState:
		cmd.fullStateReply <- d.fullState()
	case cmdValidate:
		d.enterValidation()
	case cmdAbort:
		return true
	case cmdPause:
		d.enterPaused()
	case cmdResume:
		d.leavePaused()
	}
	return false
}

func (d *Download) enterValidation() {
	d.setState(StateValidating)
	d.storage.Validate()
}

func (d *Download) enterPaused() {
	d.setState(StatePaused)
	for id, c := range d.conns {
		c.Close()
		delete(d.conns, id)
	}
}

func (d *Download) leavePaused() {
	if d.scheduler.IsTorrentFinished() {
		d.setState(StateSeeding)
	} else {
		d.setState(StatePending)
	}
}

func (d *Download) setState(s State) {
	if s == d.state {
		return
	}
	if d.state == StateSeeding {
		d.baseSeededFor += time.Since(d.seedStart)
	}
	if s == StateSeeding {
		d.seedStart = time.Now()
	}
	d.state = s
	state := s
	d.recordChange(StateChange{DownloadStateChange: &state})
}

// seededFor is the cumulative time this torrent has spent fully seeded,
// across restarts.
func (d *Download) seededFor() time.Duration {
	if d.state == StateSeeding {
		return d.baseSeededFor + time.Since(d.seedStart)
	}
	return d.baseSeededFor
}

func (d *Download) recordChange(c StateChange) {
	d.changes = append(d.changes, c)
}

// handleNewConn admits a freshly connected peer up to MaxConnections;
// overflow is hunded to peer storage for later dialing via its address.
func (d *Download) handleNewConn(conn net.Conn) {
	if d.state == StatePaused {
		conn.Close()
		return
	}
	if len(d.conns) >= d.maxConnections() {
		d.peerStorage.Add(conn.RemoteAddr().String(), peerstorage.SourceListener)
		conn.Close()
		return
	}
	id := uuid.NewV4().String()
	c := peerconn.New(id, conn, true, d.log.WithField("peer", conn.RemoteAddr().String()))
	d.conns[id] = c
	d.peerStorage.JoinConnected(conn.RemoteAddr().String())

	a := peer.NewActive(id, conn.RemoteAddr(), d.params.Info.NumPieces())
	d.scheduler.AddPeer(a)
	d.pexHistory.PushAdded(conn.RemoteAddr().String())
	d.recordChange(StateChange{PeerStateChange: &PeerStateChange{Addr: conn.RemoteAddr().String(), Kind: PeerConnect}})

	d.group.Go(func() error {
		c.Run()
		return nil
	})
	d.group.Go(func() error {
		for ev := range c.Events() {
			select {
			case d.peerEventsC <- ev:
			case <-d.ctx.Done():
				return nil
			}
			if ev.Terminated {
				return nil
			}
		}
		return nil
	})

	// Announce our bitfield, then our extension handshake, immediately.
	c.Send(peerprotocol.BitfieldMessage{Data: d.scheduler.Bitfield().Bytes()})
	hs := peerprotocol.NewExtensionHandshake(localExtensionIDs, clientVersion, int64(d.params.Info.InfoSize()))
	payload, err := hs.Marshal()
	if err == nil {
		c.Send(peerprotocol.ExtensionMessage{ExtensionID: peerprotocol.ExtensionHandshakeID, Payload: payload})
	}
}

// localExtensionIDs are the BEP 10 ids this engine advertises for its own
// implemented extensions.
var localExtensionIDs = map[string]int64{
	peerprotocol.ExtensionNameUtMetadata: 1,
	peerprotocol.ExtensionNamePEX:        2,
}

const clientVersion = "mediatorrent/1.0"

func (d *Download) handlePeerEvent(ev peerconn.Event) {
	if ev.Terminated {
		d.disconnectPeer(ev.PeerID)
		return
	}
	d.applyPeerMessage(ev.PeerID, ev.Message)
}

func (d *Download) disconnectPeer(peerID string) {
	if c, ok := d.conns[peerID]; ok {
		addr := c.Addr()
		delete(d.conns, peerID)
		d.peerStorage.DiscardConnected(addr)
		d.pexHistory.PushDropped(addr)
		d.recordChange(StateChange{PeerStateChange: &PeerStateChange{Addr: addr, Kind: PeerDisconnect}})
	}
	d.scheduler.RemovePeer(peerID)
}

func (d *Download) applyPeerMessage(peerID string, msg peerprotocol.Message) {
	switch m := msg.(type) {
	case peerprotocol.ChokeMessage:
		d.scheduler.HandlePeerChoke(peerID)
	case peerprotocol.UnchokeMessage:
		d.scheduler.HandlePeerUnchoke(peerID)
		d.dispatchRequests(peerID)
	case peerprotocol.InterestedMessage:
		d.scheduler.HandlePeerInterested(peerID)
	case peerprotocol.NotInterestedMessage:
		d.scheduler.HandlePeerUninterested(peerID)
	case peerprotocol.HaveMessage:
		d.scheduler.HandlePeerHaveMsg(peerID, int(m.Index))
	case peerprotocol.BitfieldMessage:
		bf, err := bitfield.NewBytes(m.Data, d.params.Info.NumPieces())
		if err != nil {
			return
		}
		d.scheduler.HandlePeerBitfield(peerID, bf)
	case peerprotocol.RequestMessage:
		d.handleRequest(peerID, m)
	case peerprotocol.PieceMessage:
		d.handlePieceArrival(peerID, m)
	case peerprotocol.CancelMessage:
		// Nothing queued synchronously long enough to need cancellation
		// bookkeeping beyond what the seeder already resolves per request.
	case peerprotocol.ExtensionMessage:
		d.handleExtensionMessage(peerID, m)
	}
}

func (d *Download) handleRequest(peerID string, m peerprotocol.RequestMessage) {
	c, ok := d.conns[peerID]
	if !ok {
		return
	}
	a, ok := d.scheduler.Peers()[peerID]
	if !ok || a.WeAreChoking || !a.PeerInterested {
		return
	}
	if !d.scheduler.Bitfield().Has(int(m.Index)) {
		return
	}
	block := piece.Block{Index: int(m.Index), Begin: int(m.Begin), Length: int(m.Length)}
	if data, ok := d.seeder.RequestBlock(peerID, block); ok {
		c.Send(peerprotocol.PieceMessage{Index: m.Index, Begin: m.Begin, Block: data})
		d.scheduler.RecordUploaded(peerID, int64(len(data)))
		d.uploadedTotal += int64(len(data))
		return
	}
	d.storage.RequestRead(int(m.Index))
}

func (d *Download) handlePieceArrival(peerID string, m peerprotocol.PieceMessage) {
	if len(m.Block) == 0 {
		if c, ok := d.conns[peerID]; ok {
			d.peerStorage.DecrementReputation(c.Addr())
		}
		return
	}
	res, err := d.scheduler.SaveBlock(peerID, int(m.Index), int(m.Begin), m.Block)
	if err != nil {
		if c, ok := d.conns[peerID]; ok {
			d.peerStorage.DecrementReputation(c.Addr())
		}
		return
	}
	if res.PieceComplete {
		d.seeder.HandleRetrieve(res.Piece, res.Data)
		if !d.storage.TrySavePiece(res.Piece, res.Data) {
			// Save queue full: reset the piece so it is requested again.
			d.scheduler.FailPiece(res.Piece)
		}
	}
}

func (d *Download) handleExtensionMessage(peerID string, m peerprotocol.ExtensionMessage) {
	a, ok := d.scheduler.Peers()[peerID]
	if !ok {
		return
	}

	if m.ExtensionID == peerprotocol.ExtensionHandshakeID {
		hs, err := peerprotocol.UnmarshalExtensionHandshake(m.Payload)
		if err != nil {
			return
		}
		alreadySeededPex := a.Extensions.Supported && a.Extensions.PexID != 0
		a.Extensions.Supported = true
		a.Extensions.PexID = hs.M[peerprotocol.ExtensionNamePEX]
		a.Extensions.UtMetadataID = hs.M[peerprotocol.ExtensionNameUtMetadata]
		if v, ok := hs.ClientVersion(); ok {
			a.Extensions.ClientName = v
		}
		if a.Extensions.PexID != 0 && !alreadySeededPex {
			d.seedPex(peerID, a)
		}
		return
	}

	switch int64(m.ExtensionID) {
	case localExtensionIDs[peerprotocol.ExtensionNamePEX]:
		d.handlePexMessage(m.Payload)
	case localExtensionIDs[peerprotocol.ExtensionNameUtMetadata]:
		d.handleUtMetadataMessage(peerID, m.Payload)
	}
}

// seedPex gives a freshly PEX-capable peer an immediate view of the whole
// swarm (every other connected peer, as "added", nothing "dropped"), rather
// than waiting for it to catch up through the periodic history diff; its
// cursor is advanced to the current tip so that diff never repeats these.
func (d *Download) seedPex(peerID string, a *peer.Active) {
	c, ok := d.conns[peerID]
	if !ok {
		return
	}
	var addrs []string
	for id, other := range d.conns {
		if id == peerID {
			continue
		}
		addrs = append(addrs, other.Addr())
	}
	a.PexCursor = d.pexHistory.Tip()
	if len(addrs) == 0 {
		return
	}
	payload, err := peerprotocol.PexMessage{Added: encodeCompactAddrs(addrs)}.Marshal()
	if err != nil {
		return
	}
	c.Send(peerprotocol.ExtensionMessage{ExtensionID: peerprotocol.ExtensionMessageID(a.Extensions.PexID), Payload: payload})
}

func (d *Download) handlePexMessage(payload []byte) {
	pexMsg, err := peerprotocol.UnmarshalPexMessage(payload)
	if err != nil {
		return
	}
	for _, addr := range compactAddrs(pexMsg.Added) {
		d.peerStorage.Add(addr, peerstorage.SourcePEX)
	}
}

// handleUtMetadataMessage only answers Requests: this engine is always
// constructed with a complete Info (Params.Info), so it never needs to act
// as a ut_metadata requester itself.
func (d *Download) handleUtMetadataMessage(peerID string, payload []byte) {
	msg, err := peerprotocol.UnmarshalUtMetadataMessage(payload)
	if err != nil || msg.MsgType != peerprotocol.UtMetadataRequest {
		return
	}
	c, ok := d.conns[peerID]
	if !ok {
		return
	}
	a := d.scheduler.Peers()[peerID]
	info := d.params.Info
	const blockSize = 16 * 1024
	start := int(msg.Piece) * blockSize
	if start >= len(info.Bytes) {
		reject, _ := peerprotocol.UtMetadataMessage{MsgType: peerprotocol.UtMetadataReject, Piece: msg.Piece}.Marshal()
		c.Send(peerprotocol.ExtensionMessage{ExtensionID: peerprotocol.ExtensionMessageID(a.Extensions.UtMetadataID), Payload: reject})
		return
	}
	end := start + blockSize
	if end > len(info.Bytes) {
		end = len(info.Bytes)
	}
	header, _ := peerprotocol.UtMetadataMessage{
		MsgType:   peerprotocol.UtMetadataData,
		Piece:     msg.Piece,
		TotalSize: int64(len(info.Bytes)),
	}.Marshal()
	payloadOut := append(header, info.Bytes[start:end]...)
	c.Send(peerprotocol.ExtensionMessage{ExtensionID: peerprotocol.ExtensionMessageID(a.Extensions.UtMetadataID), Payload: payloadOut})
}

// compactAddrs unpacks the same 6-byte compact peer encoding the tracker
// protocol uses, which ut_pex reuses for its added/dropped lists.
func compactAddrs(b []byte) []string {
	var out []string
	for i := 0; i+6 <= len(b); i += 6 {
		port := int(b[i+4])<<8 | int(b[i+5])
		out = append(out, fmt.Sprintf("%d.%d.%d.%d:%d", b[i], b[i+1], b[i+2], b[i+3], port))
	}
	return out
}

// dispatchRequests fills peerID's request window after it unchokes us or
// after we learn of new pieces.
func (d *Download) dispatchRequests(peerID string) {
	c, ok := d.conns[peerID]
	if !ok {
		return
	}
	for _, plan := range d.scheduler.Schedule(peerID) {
		c.Send(peerprotocol.RequestMessage{
			Index:  uint32(plan.Block.Index),
			Begin:  uint32(plan.Block.Begin),
			Length: uint32(plan.Block.Length),
		})
	}
}

// refillRequests tops up every peer that currently has us unchoked, so a
// drained request window gets refilled even absent a fresh Unchoke message
// (per-tick, rather than only on the choke-state transition that opened it).
func (d *Download) refillRequests() {
	for peerID, a := range d.scheduler.Peers() {
		if a.PeerChokingUs {
			continue
		}
		d.dispatchRequests(peerID)
	}
}

func (d *Download) handleTrackerPeers(found trackermanager.PeersFound) {
	for _, addr := range found.Addrs {
		d.peerStorage.Add(addr, peerstorage.SourceTracker)
	}
	url := found.TrackerURL
	d.recordChange(StateChange{TrackerAnnounce: &url})
}

func (d *Download) handleStorageFeedback(fb storage.Feedback) {
	switch {
	case fb.Saved != nil:
		i := *fb.Saved
		d.scheduler.OnPieceFinished(i)
		d.downloadedTotal += d.params.Info.PieceLen(i)
		piece := i
		d.recordChange(StateChange{FinishedPiece: &piece})
		for _, c := range d.conns {
			c.Send(peerprotocol.HaveMessage{Index: uint32(i)})
		}
		if d.scheduler.IsTorrentFinished() {
			d.setState(StateSeeding)
		}
		d.saveResume()
	case fb.Data != nil:
		for _, reply := range d.seeder.FulfillRead(fb.Data.Piece, fb.Data.Bytes) {
			if c, ok := d.conns[reply.PeerID]; ok {
				c.Send(peerprotocol.PieceMessage{
					Index: uint32(reply.Block.Index),
					Begin: uint32(reply.Block.Begin),
					Block: reply.Data,
				})
				d.scheduler.RecordUploaded(reply.PeerID, int64(len(reply.Data)))
				d.uploadedTotal += int64(len(reply.Data))
			}
		}
	case fb.ValidationProgress != nil:
		if fb.ValidationProgress.IsValid {
			d.scheduler.AddPiece(fb.ValidationProgress.Piece)
		}
		if fb.ValidationProgress.Piece == d.params.Info.NumPieces()-1 {
			if d.scheduler.IsTorrentFinished() {
				d.setState(StateSeeding)
			} else {
				d.setState(StatePending)
			}
		}
	case fb.StorageError != nil:
		d.handleStorageError(*fb.StorageError)
	}
}

func (d *Download) handleStorageError(err storage.Error) {
	switch err.Kind {
	case storage.ErrHash:
		d.wasted += d.params.Info.PieceLen(err.Piece)
		contributor, ok := d.scheduler.FailPiece(err.Piece)
		if ok {
			if c, ok := d.conns[contributor]; ok {
				d.peerStorage.DecrementReputation(c.Addr())
			}
		}
		d.seeder.FulfillReadError(err.Piece)
	case storage.ErrFs:
		d.setState(StateError)
		d.cancel()
	default:
		d.seeder.FulfillReadError(err.Piece)
	}
}

// onTick runs the fixed per-tick sequence: rate sampling, flow control,
// dialing from peer storage, request refill, PEX broadcast, tracker
// announces, progress emission. Listener connections are admitted by Run as
// they arrive, not here.
func (d *Download) onTick() {
	d.tick++
	now := time.Now()

	for _, a := range d.scheduler.Peers() {
		a.Tick()
	}

	if d.state != StatePaused && d.state != StateValidating {
		if d.scheduler.ShouldRechoke(now) {
			for _, tr := range d.scheduler.Rechoke(now, d.state == StateSeeding) {
				d.sendChoke(tr)
			}
		}
		if d.scheduler.ShouldOptimisticUnchoke(now) {
			if tr := d.scheduler.OptimisticUnchoke(now, func(n int) int { return int(d.tick) % n }); tr != nil {
				d.sendChoke(*tr)
			}
		}
		d.dialFromPeerStorage()
		d.refillRequests()
		if now.Sub(d.lastPex) >= pexAnnounceInterval {
			d.broadcastPex()
			d.lastPex = now
		}
	}

	d.trackerMgr.Tick(d.ctx, now, tracker.EventNone, 0, 0, 0)
	d.emitProgress(now)
}

// broadcastPex sends every peer that advertised ut_pex the addresses added
// and dropped since its last cursor, then shrinks the shared history once
// the lowest cursor is far enough behind the tip.
func (d *Download) broadcastPex() {
	cursors := make([]int, 0, len(d.scheduler.Peers()))
	for id, a := range d.scheduler.Peers() {
		cursors = append(cursors, a.PexCursor)
		if !a.Extensions.Supported || a.Extensions.PexID == 0 {
			continue
		}
		c, ok := d.conns[id]
		if !ok {
			continue
		}
		added, dropped, newCursor := d.pexHistory.Diff(a.PexCursor)
		a.PexCursor = newCursor
		if len(added) == 0 && len(dropped) == 0 {
			continue
		}
		payload, err := peerprotocol.PexMessage{Added: encodeCompactAddrs(added), Dropped: encodeCompactAddrs(dropped)}.Marshal()
		if err != nil {
			continue
		}
		c.Send(peerprotocol.ExtensionMessage{ExtensionID: peerprotocol.ExtensionMessageID(a.Extensions.PexID), Payload: payload})
	}
	d.pexHistory.Shrink(cursors)
}

// encodeCompactAddrs packs "ip:port" strings into the 6-byte compact peer
// encoding; malformed or non-IPv4 addresses are skipped.
func encodeCompactAddrs(addrs []string) []byte {
	out := make([]byte, 0, len(addrs)*6)
	for _, addr := range addrs {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host).To4()
		port, err := strconv.Atoi(portStr)
		if ip == nil || err != nil || port < 0 || port > 0xffff {
			continue
		}
		out = append(out, ip[0], ip[1], ip[2], ip[3], byte(port>>8), byte(port))
	}
	return out
}

func (d *Download) sendChoke(tr scheduler.ChokeTransition) {
	c, ok := d.conns[tr.PeerID]
	if !ok {
		return
	}
	if tr.Choke {
		c.Send(peerprotocol.ChokeMessage{})
	} else {
		c.Send(peerprotocol.UnchokeMessage{})
		d.dispatchRequests(tr.PeerID)
	}
	d.recordChange(StateChange{PeerStateChange: &PeerStateChange{Addr: c.Addr(), Kind: PeerOutChoke, Value: tr.Choke}})
}

func (d *Download) dialFromPeerStorage() {
	free := d.maxConnections() - len(d.conns)
	if free <= 0 {
		return
	}
	for _, addr := range d.peerStorage.ConnectBest(free) {
		go d.dial(addr)
	}
}

func (d *Download) dial(addr string) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		d.peerStorage.DiscardConnecting(addr)
		return
	}
	_, fastExt, err := peerconn.Handshake(conn, d.params.Info.Hash, d.peerID)
	if err != nil {
		conn.Close()
		d.peerStorage.DiscardConnecting(addr)
		return
	}
	d.log.Debugf("dialed %s, fast extension=%v", addr, fastExt)
	select {
	case d.newConnC <- conn:
	case <-d.ctx.Done():
		conn.Close()
	}
}

func (d *Download) emitProgress(now time.Time) {
	percent := d.percentComplete()
	p := Progress{
		Tick:    d.tick,
		Percent: percent,
		Peers:   d.peerStatsSnapshot(),
		Changes: d.changes,
	}
	d.changes = nil
	select {
	case d.progressC <- p:
	default:
	}
}

func (d *Download) percentComplete() float64 {
	total := d.params.Info.NumPieces()
	if total == 0 {
		return 100
	}
	return 100 * float64(len(d.scheduler.Bitfield().Pieces())) / float64(total)
}

func (d *Download) peerStatsSnapshot() []PeerStats {
	peers := d.scheduler.Peers()
	out := make([]PeerStats, 0, len(peers))
	for id, a := range peers {
		c, ok := d.conns[id]
		if !ok {
			continue
		}
		out = append(out, PeerStats{
			Addr:             c.Addr(),
			Downloaded:       a.Downloaded,
			Uploaded:         a.Uploaded,
			DownloadRate:     a.DownloadRate(),
			UploadRate:       a.UploadRate(),
			InterestedPieces: a.InterestedCount(),
			InFlightBlocks:   a.InFlightBlocks,
		})
	}
	return out
}

func (d *Download) fullState() FullState {
	info := d.params.Info
	files := make([]FileEntry, len(info.Files))
	for i, f := range info.Files {
		start, end := info.FilePieceRange(i)
		files[i] = FileEntry{Index: i, Path: f.FullPath(""), Size: f.Length, StartPiece: start, EndPiece: end}
	}
	return FullState{
		Name:            info.Name,
		TotalPieces:     info.NumPieces(),
		Percent:         d.percentComplete(),
		TotalSize:       info.TotalSize(),
		InfoHash:        info.Hash,
		Trackers:        d.trackerMgr.States(),
		Peers:           d.peerStatsSnapshot(),
		Files:           files,
		Bitfield:        d.scheduler.Bitfield(),
		State:           d.state,
		PendingPieces:   d.scheduler.PendingPieceIndices(),
		Tick:            d.tick,
		CapturedAt:      time.Now(),
		BytesDownloaded: d.downloadedTotal,
		BytesUploaded:   d.uploadedTotal,
		BytesWasted:     d.wasted,
		SeededFor:       d.seededFor(),
	}
}
