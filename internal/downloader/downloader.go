// Package downloader implements Downloader (spec.md §4.7): the
// metadata bootstrap, per-peer block-pump workers, and periodic
// tracker refresh for one FileTransfer. Grounded on the teacher's
// download/download.go (wiring storage, piece manager, and a tracker
// loop together around a shared quit channel) and peer/peerManager.go
// (one worker per peer), generalized from the teacher's choke/interest
// BitTorrent wire protocol to spec.md's synchronous
// MetadataRequest/BlockRequest/BitmapRequest exchange, and built on
// golang.org/x/sync/errgroup (promoted here from chihaya's indirect
// dependency to a direct one) instead of the teacher's raw channel
// fan-out, since errgroup gives clean per-worker error propagation and
// cancellation.
package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/boljen/go-bitmap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nodeswarm/filemesh/internal/peerconn"
	"github.com/nodeswarm/filemesh/internal/protocol"
	"github.com/nodeswarm/filemesh/internal/scheduler"
	"github.com/nodeswarm/filemesh/internal/stats"
	"github.com/nodeswarm/filemesh/internal/storage"
	"github.com/nodeswarm/filemesh/internal/transfer"
)

// peerHasNothingBackoff is how long a worker sleeps after a
// PeerHasNothing decision before retrying, per spec.md §4.7.2.c.
const peerHasNothingBackoff = 2 * time.Second

// Downloader drives metadata bootstrap, block-pump workers, and
// periodic tracker refresh for a single FileTransfer.
type Downloader struct {
	ft      *transfer.FileTransfer
	store   *storage.Store
	stats   *stats.Tracker
	timeout time.Duration
	refresh time.Duration
	log     *zap.Logger

	// mu guards workers, so each peer gets at most one worker. Tracker
	// refresh runs without holding it, so a refresh is not serialized
	// against the transfer completing.
	mu      sync.Mutex
	workers map[string]context.CancelFunc
}

// New constructs a Downloader for ft, writing completed blocks through
// store.
func New(ft *transfer.FileTransfer, store *storage.Store, statsTracker *stats.Tracker, timeout, refreshInterval time.Duration, log *zap.Logger) *Downloader {
	return &Downloader{
		ft:      ft,
		store:   store,
		stats:   statsTracker,
		timeout: timeout,
		refresh: refreshInterval,
		log:     log,
		workers: make(map[string]context.CancelFunc),
	}
}

// Bootstrap implements spec.md §4.7.1: refresh the peer list from every
// tracker, ask each discovered peer for metadata, and set it on the
// first valid MetadataResp. Fails with *protocol.NoMetadata if no peer
// answers. A no-op if metadata is already loaded.
func (d *Downloader) Bootstrap(trackers []string) error {
	if d.ft.MetadataLoaded() {
		return nil
	}

	peers := d.refreshFromTrackers(trackers)
	for _, peer := range peers {
		fileSize, blockSize, err := d.requestMetadata(peer)
		if err != nil {
			d.log.Debug("metadata request failed, trying next peer", zap.String("peer", peer.String()), zap.Error(err))
			continue
		}
		d.ft.SetMetadata(fileSize, blockSize)
		if err := d.store.Open(); err != nil {
			return err
		}
		if err := d.store.Truncate(fileSize); err != nil {
			return err
		}
		return nil
	}
	return &protocol.NoMetadata{Filename: d.ft.Filename()}
}

func (d *Downloader) requestMetadata(peer protocol.PeerEndpoint) (int64, int64, error) {
	conn, err := peerconn.Dial("tcp", peer.String(), d.timeout)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	resp, err := conn.SendAndReceive(protocol.MetadataRequest{Filename: d.ft.Filename()})
	if err != nil {
		return 0, 0, err
	}
	meta, ok := resp.(protocol.MetadataResp)
	if !ok {
		reason := "unexpected response"
		if pe, ok := resp.(protocol.PeerError); ok {
			reason = pe.Reason
		}
		return 0, 0, &protocol.RequestFailed{Remote: peer.String(), Reason: reason}
	}
	return int64(meta.FileSize), int64(meta.BlockSize), nil
}

// refreshFromTrackers queries every tracker for the peer list and
// returns only the newly-discovered peers, recording all of them as
// known seeds on ft (deduplicated there).
func (d *Downloader) refreshFromTrackers(trackers []string) []protocol.PeerEndpoint {
	var discovered []protocol.PeerEndpoint
	for _, trackerAddr := range trackers {
		peers, err := d.peerListFrom(trackerAddr)
		if err != nil {
			d.log.Debug("tracker refresh failed, skipping", zap.String("tracker", trackerAddr), zap.Error(err))
			continue
		}
		for _, p := range peers {
			if d.ft.AddSeed(p) {
				discovered = append(discovered, p)
			}
		}
	}
	return discovered
}

func (d *Downloader) peerListFrom(trackerAddr string) ([]protocol.PeerEndpoint, error) {
	conn, err := peerconn.Dial("tcp", trackerAddr, d.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.SendAndReceive(protocol.PeerList{Filename: d.ft.Filename()})
	if err != nil {
		return nil, err
	}
	listResp, ok := resp.(protocol.PeerListResp)
	if !ok {
		reason := "unexpected response"
		if te, ok := resp.(protocol.TrackerError); ok {
			reason = te.Reason
		}
		return nil, &protocol.RequestFailed{Remote: trackerAddr, Reason: reason}
	}
	return listResp.Peers, nil
}

// RunRefreshLoop periodically re-queries trackers and starts a worker
// for every newly discovered peer, until ctx is cancelled. Intended to
// run as its own goroutine alongside StartWorkers.
func (d *Downloader) RunRefreshLoop(ctx context.Context, trackers []string) {
	ticker := time.NewTicker(d.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newPeers := d.refreshFromTrackers(trackers)
			if !d.ft.Downloading() {
				continue
			}
			for _, p := range newPeers {
				d.addWorker(ctx, p)
			}
		}
	}
}

// StartWorkers launches one block-pump worker per currently known seed
// and blocks until the transfer completes or ctx is cancelled.
// Newly-discovered peers from a concurrent RunRefreshLoop are added as
// they arrive via addWorker.
func (d *Downloader) StartWorkers(ctx context.Context) error {
	d.ft.SetDownloading(true)
	defer d.ft.SetDownloading(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range d.ft.Seeds() {
		d.registerWorker(p, cancel)
		p := p
		g.Go(func() error { return d.pumpWorker(gctx, p) })
	}

	err := g.Wait()
	if err != nil {
		if _, ok := err.(*protocol.DownloadComplete); ok {
			return nil
		}
	}
	return err
}

func (d *Downloader) registerWorker(peer protocol.PeerEndpoint, cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.workers[peer.String()]; exists {
		return false
	}
	d.workers[peer.String()] = cancel
	return true
}

// addWorker starts a detached worker for peer discovered mid-transfer.
// errgroup has no facility for adding goroutines after Wait begins, so
// late arrivals run outside the group; a worker that sees
// FileTransfer.IsComplete() exits on its own via the Complete decision.
func (d *Downloader) addWorker(ctx context.Context, peer protocol.PeerEndpoint) {
	workerCtx, cancel := context.WithCancel(ctx)
	if !d.registerWorker(peer, cancel) {
		cancel()
		return
	}
	go func() {
		if err := d.pumpWorker(workerCtx, peer); err != nil {
			d.log.Debug("worker exited", zap.String("peer", peer.String()), zap.Error(err))
		}
	}()
}

// pumpWorker implements spec.md §4.7.2: the per-peer block-pump loop.
func (d *Downloader) pumpWorker(ctx context.Context, peer protocol.PeerEndpoint) error {
	log := d.log.With(zap.String("peer", peer.String()))

	var conn *peerconn.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if conn == nil || conn.Poisoned() {
			if conn != nil {
				conn.Close()
			}
			var err error
			conn, err = peerconn.Dial("tcp", peer.String(), d.timeout)
			if err != nil {
				log.Debug("dial failed, retrying", zap.Error(err))
				time.Sleep(peerHasNothingBackoff)
				continue
			}
		}

		peerBitmapBytes, err := d.fetchPeerBitmap(conn)
		if err != nil {
			log.Debug("bitmap fetch failed", zap.Error(err))
			conn.Close()
			conn = nil
			time.Sleep(peerHasNothingBackoff)
			continue
		}

		decision := d.selectBlock(peerBitmapBytes)

		switch decision.Kind {
		case scheduler.Complete:
			return &protocol.DownloadComplete{Filename: d.ft.Filename()}
		case scheduler.PeerHasNothing:
			time.Sleep(peerHasNothingBackoff)
			continue
		case scheduler.IndexDecision:
			if err := d.fetchBlock(conn, peer, decision.Index); err != nil {
				log.Debug("block fetch failed", zap.Int("blockIndex", decision.Index), zap.Error(err))
				d.ft.ClearAssigned(decision.Index)
				conn.Close()
				conn = nil
			}
		}
	}
}

// selectBlock runs scheduler.SelectBlock under the transfer's guard, per
// spec.md §4.6's requirement that the read of local/assigned and the
// conditional write to assigned happen atomically.
func (d *Downloader) selectBlock(peerBitmapBytes []byte) scheduler.Decision {
	var decision scheduler.Decision
	d.ft.WithLock(func(local, assigned bitmap.Bitmap, numBlocks int) {
		peerBM := bitmap.New(numBlocks)
		wantBytes := (numBlocks + 7) / 8
		for i := range peerBitmapBytes {
			if i >= wantBytes {
				break
			}
			peerBM[i] = peerBitmapBytes[i]
		}
		decision = scheduler.SelectBlock(local, peerBM, assigned, numBlocks)
	})
	return decision
}

func (d *Downloader) fetchPeerBitmap(conn *peerconn.Conn) ([]byte, error) {
	resp, err := conn.SendAndReceive(protocol.BitmapRequest{Filename: d.ft.Filename()})
	if err != nil {
		return nil, err
	}
	bmResp, ok := resp.(protocol.BitmapResp)
	if !ok {
		reason := "unexpected response"
		if pe, ok := resp.(protocol.PeerError); ok {
			reason = pe.Reason
		}
		return nil, &protocol.RequestFailed{Reason: reason}
	}
	return bmResp.Bitmap, nil
}

func (d *Downloader) fetchBlock(conn *peerconn.Conn, peer protocol.PeerEndpoint, index int) error {
	resp, err := conn.SendAndReceive(protocol.BlockRequest{Filename: d.ft.Filename(), BlockIndex: uint32(index)})
	if err != nil {
		return err
	}
	blockResp, ok := resp.(protocol.BlockResp)
	if !ok {
		reason := "unexpected response"
		if pe, ok := resp.(protocol.PeerError); ok {
			reason = pe.Reason
		}
		return &protocol.RequestFailed{Remote: peer.String(), Reason: reason}
	}

	if d.ft.HasBlock(index) {
		// Another worker already recorded this block (endgame duplicate);
		// leave its bytes as they are.
		return nil
	}

	offset := storage.BlockOffset(index, d.ft.BlockSize())
	if err := d.store.WriteBlock(offset, blockResp.Bytes); err != nil {
		return err
	}
	if d.ft.RecordBlock(index) && d.stats != nil {
		d.stats.RecordDownload(peer.String(), int64(len(blockResp.Bytes)))
	}
	return nil
}
