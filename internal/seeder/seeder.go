// Package seeder implements Seeder (spec.md §4.8): a TCP listener that
// serves MetadataRequest and BlockRequest against a FileTransfer's
// local storage, and registers the local peer with every configured
// tracker on Start. Grounded on the teacher's server/server.go accept
// loop and client/fileDownload.go's request handling, generalized from
// BitTorrent's piece/choke protocol to spec.md's stateless
// request-response pair, and on FileTransfer.java's startSeeder
// registration loop for the multierr-aggregated per-tracker failure
// handling.
package seeder

import (
	"context"
	"net"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nodeswarm/filemesh/internal/peerconn"
	"github.com/nodeswarm/filemesh/internal/protocol"
	"github.com/nodeswarm/filemesh/internal/stats"
	"github.com/nodeswarm/filemesh/internal/storage"
	"github.com/nodeswarm/filemesh/internal/transfer"
)

// Seeder accepts data connections for one FileTransfer and answers
// MetadataRequest/BlockRequest over them.
type Seeder struct {
	ft      *transfer.FileTransfer
	store   *storage.Store
	stats   *stats.Tracker
	timeout time.Duration
	log     *zap.Logger

	listener net.Listener
	quit     chan struct{}
}

// New constructs a Seeder bound to listenAddr (":0" for an OS-assigned
// ephemeral data port, per spec.md §4.8/§6's ClientDataPort default).
func New(ft *transfer.FileTransfer, store *storage.Store, statsTracker *stats.Tracker, timeout time.Duration, log *zap.Logger, listenAddr string) (*Seeder, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, &protocol.TransportError{Op: "listen", Addr: listenAddr, Err: err}
	}
	return &Seeder{
		ft:       ft,
		store:    store,
		stats:    statsTracker,
		timeout:  timeout,
		log:      log,
		listener: ln,
		quit:     make(chan struct{}),
	}, nil
}

// Port returns the data port this seeder is bound to.
func (s *Seeder) Port() uint16 {
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return uint16(tcpAddr.Port)
	}
	return 0
}

// Serve accepts inbound peer connections until Stop is called,
// handling each on its own goroutine. Blocks the calling goroutine.
func (s *Seeder) Serve() {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn("accept failed", zap.Error(err))
				return
			}
		}
		go s.handle(netConn)
	}
}

// Stop closes the listener, causing Serve to return.
func (s *Seeder) Stop() error {
	close(s.quit)
	return s.listener.Close()
}

func (s *Seeder) handle(netConn net.Conn) {
	defer netConn.Close()
	conn := peerconn.Wrap(netConn, s.timeout)
	peer := netConn.RemoteAddr().String()

	for {
		req, err := conn.Receive()
		if err != nil {
			return
		}

		switch m := req.(type) {
		case protocol.MetadataRequest:
			s.serveMetadata(conn, m, peer)
		case protocol.BlockRequest:
			s.serveBlock(conn, m, peer)
		case protocol.BitmapRequest:
			s.serveBitmap(conn, m, peer)
		default:
			s.log.Debug("unexpected request type from peer", zap.String("peer", peer))
			return
		}
	}
}

func (s *Seeder) serveMetadata(conn *peerconn.Conn, req protocol.MetadataRequest, peer string) {
	if req.Filename != s.ft.Filename() {
		conn.Reply(protocol.PeerError{Reason: "unknown file"})
		return
	}
	if !s.ft.MetadataLoaded() {
		conn.Reply(protocol.PeerError{Reason: "no metadata"})
		return
	}
	conn.Reply(protocol.MetadataResp{FileSize: uint64(s.ft.FileSize()), BlockSize: uint32(s.ft.BlockSize())})
}

func (s *Seeder) serveBlock(conn *peerconn.Conn, req protocol.BlockRequest, peer string) {
	if req.Filename != s.ft.Filename() || !s.ft.HasBlock(int(req.BlockIndex)) {
		conn.Reply(protocol.PeerError{Reason: "not available"})
		return
	}

	offset := storage.BlockOffset(int(req.BlockIndex), s.ft.BlockSize())
	length := s.ft.BlockLength(int(req.BlockIndex))
	data, err := s.store.ReadBlock(offset, length)
	if err != nil {
		s.log.Warn("local read failed", zap.Uint32("blockIndex", req.BlockIndex), zap.Error(err))
		conn.Reply(protocol.PeerError{Reason: "not available"})
		return
	}

	if err := conn.Reply(protocol.BlockResp{BlockIndex: req.BlockIndex, Bytes: data}); err == nil && s.stats != nil {
		s.stats.RecordUpload(peer, int64(len(data)))
	}
}

func (s *Seeder) serveBitmap(conn *peerconn.Conn, req protocol.BitmapRequest, peer string) {
	if req.Filename != s.ft.Filename() {
		conn.Reply(protocol.PeerError{Reason: "unknown file"})
		return
	}
	conn.Reply(protocol.BitmapResp{Bitmap: s.ft.LocalBitmap().Data(false)})
}

// Start registers filename with every tracker, per spec.md §4.8.
// Failure against any individual tracker is logged and otherwise
// ignored so the remaining trackers still get a registration attempt;
// the aggregated failures are returned (non-nil only if at least one
// tracker failed) so callers can decide whether to treat a fully-failed
// registration as fatal.
func (s *Seeder) Start(trackers []string, dataPort uint16) error {
	var errs error
	for _, trackerAddr := range trackers {
		if err := s.registerWith(trackerAddr, dataPort); err != nil {
			s.log.Warn("tracker registration failed", zap.String("tracker", trackerAddr), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		s.log.Info("registered with tracker", zap.String("tracker", trackerAddr))
	}
	return errs
}

// RunRegistrationLoop re-invokes Start on every tick of interval until
// ctx is cancelled, so a tracker that loses its registry (spec.md §8
// scenario 3, "tracker restarted mid-run") eventually sees this seeder
// again rather than staying permanently invisible to new PeerList
// queries. Intended to run as its own goroutine alongside Serve.
func (s *Seeder) RunRegistrationLoop(ctx context.Context, trackers []string, dataPort uint16, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Start(trackers, dataPort); err != nil {
				s.log.Warn("periodic re-registration had failures", zap.Error(err))
			}
		}
	}
}

func (s *Seeder) registerWith(trackerAddr string, dataPort uint16) error {
	conn, err := peerconn.Dial("tcp", trackerAddr, s.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := conn.SendAndReceive(protocol.RegisterPeer{Filename: s.ft.Filename(), DataPort: dataPort})
	if err != nil {
		return err
	}
	if te, ok := resp.(protocol.TrackerError); ok {
		return &protocol.RequestFailed{Remote: trackerAddr, Reason: te.Reason}
	}
	return nil
}
