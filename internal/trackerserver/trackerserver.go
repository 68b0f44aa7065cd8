// Package trackerserver implements TrackerServer (spec.md §4.2,
// "tracker"): the accept loop that dispatches RegisterPeer and
// PeerList requests against a trackerreg.Registry. Grounded on the
// teacher's server/server.go accept loop (one goroutine per Accept,
// signalled back through a channel), generalized from handing
// connections to a peer.PeerManager to answering requests on each
// connection itself: the handler reads a request, replies, and waits
// for the next one until the client disconnects or sends something
// malformed.
package trackerserver

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nodeswarm/filemesh/internal/peerconn"
	"github.com/nodeswarm/filemesh/internal/protocol"
	"github.com/nodeswarm/filemesh/internal/trackerreg"
)

// Server accepts tracker connections and answers RegisterPeer/PeerList
// requests against a shared Registry.
type Server struct {
	registry *trackerreg.Registry
	log      *zap.Logger
	timeout  time.Duration

	listener net.Listener
	quit     chan struct{}
}

// New constructs a Server bound to listenAddr (e.g. ":6969"). The
// listener is opened immediately so Addr() is valid before Serve runs.
// timeout bounds how long an accepted connection may sit without
// sending its next request, per spec.md §5, so a stalled client can't
// leak a handler goroutine forever; 0 disables the deadline.
func New(listenAddr string, registry *trackerreg.Registry, log *zap.Logger, timeout time.Duration) (*Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, &protocol.TransportError{Op: "listen", Addr: listenAddr, Err: err}
	}
	return &Server{
		registry: registry,
		log:      log,
		timeout:  timeout,
		listener: ln,
		quit:     make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address, useful when listenAddr
// used an ephemeral port (":0").
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until Stop is called, handling each on its
// own goroutine. It blocks the calling goroutine; callers typically
// invoke it with `go`.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn("accept failed", zap.Error(err))
				return
			}
		}
		go s.handle(conn)
	}
}

// Stop closes the listener, causing Serve to return.
func (s *Server) Stop() error {
	close(s.quit)
	return s.listener.Close()
}

// handle loops reading requests off one connection and answering each
// in turn, per spec.md §4.3/§6: a connection carries many requests,
// and the handler only closes it on a decode/I/O error. Grounded on
// TrackerRequestHandler's while(true) request loop, which exits only
// on IOException/ClassNotFoundException.
func (s *Server) handle(netConn net.Conn) {
	defer netConn.Close()

	conn := peerconn.Wrap(netConn, s.timeout)
	host := remoteHost(netConn)

	for {
		req, err := conn.Receive()
		if err != nil {
			s.log.Debug("dropping connection: bad request", zap.Error(err))
			return
		}

		switch m := req.(type) {
		case protocol.RegisterPeer:
			s.registry.AddPeer(m.Filename, protocol.PeerEndpoint{Host: host, DataPort: m.DataPort})
			s.log.Info("peer registered", zap.String("filename", m.Filename), zap.String("peer", host))
			if err := conn.Reply(protocol.Success{}); err != nil {
				s.log.Debug("reply failed", zap.Error(err))
				return
			}
		case protocol.PeerList:
			peers := s.registry.PeersOf(m.Filename)
			if err := conn.Reply(protocol.PeerListResp{Peers: peers}); err != nil {
				s.log.Debug("reply failed", zap.Error(err))
				return
			}
		default:
			s.log.Debug("unexpected request type, dropping connection", zap.String("peer", host))
			return
		}
	}
}

func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
