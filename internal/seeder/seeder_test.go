package seeder

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nodeswarm/filemesh/internal/applog"
	"github.com/nodeswarm/filemesh/internal/peerconn"
	"github.com/nodeswarm/filemesh/internal/protocol"
	"github.com/nodeswarm/filemesh/internal/stats"
	"github.com/nodeswarm/filemesh/internal/storage"
	"github.com/nodeswarm/filemesh/internal/trackerreg"
	"github.com/nodeswarm/filemesh/internal/trackerserver"
	"github.com/nodeswarm/filemesh/internal/transfer"
)

func newTestSeeder(t *testing.T) (*Seeder, *transfer.FileTransfer, *storage.Store) {
	t.Helper()
	ft := transfer.New("movie.mkv", "movie.mkv")
	ft.SetMetadata(10, 4)

	fs := afero.NewMemMapFs()
	store := storage.New(fs, "movie.mkv")
	require.NoError(t, store.Open())
	require.NoError(t, store.Truncate(10))
	require.NoError(t, store.WriteBlock(0, []byte{1, 2, 3, 4}))
	ft.RecordBlock(0)

	sd, err := New(ft, store, stats.NewTracker("movie.mkv", nil), 2*time.Second, applog.Nop(), "127.0.0.1:0")
	require.NoError(t, err)
	go sd.Serve()
	t.Cleanup(func() { sd.Stop() })
	return sd, ft, store
}

func dialSeeder(t *testing.T, sd *Seeder) *peerconn.Conn {
	t.Helper()
	netConn, err := net.Dial("tcp", sd.listener.Addr().String())
	require.NoError(t, err)
	return peerconn.Wrap(netConn, 2*time.Second)
}

func TestServeMetadataForKnownFile(t *testing.T) {
	sd, _, _ := newTestSeeder(t)
	conn := dialSeeder(t, sd)
	defer conn.Close()

	resp, err := conn.SendAndReceive(protocol.MetadataRequest{Filename: "movie.mkv"})
	require.NoError(t, err)
	meta, ok := resp.(protocol.MetadataResp)
	require.True(t, ok)
	require.Equal(t, uint64(10), meta.FileSize)
	require.Equal(t, uint32(4), meta.BlockSize)
}

func TestServeMetadataForUnknownFileIsPeerError(t *testing.T) {
	sd, _, _ := newTestSeeder(t)
	conn := dialSeeder(t, sd)
	defer conn.Close()

	resp, err := conn.SendAndReceive(protocol.MetadataRequest{Filename: "other.bin"})
	require.NoError(t, err)
	_, ok := resp.(protocol.PeerError)
	require.True(t, ok)
}

func TestServeBlockReturnsStoredBytes(t *testing.T) {
	sd, _, _ := newTestSeeder(t)
	conn := dialSeeder(t, sd)
	defer conn.Close()

	resp, err := conn.SendAndReceive(protocol.BlockRequest{Filename: "movie.mkv", BlockIndex: 0})
	require.NoError(t, err)
	blockResp, ok := resp.(protocol.BlockResp)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, blockResp.Bytes)
}

func TestServeBlockNotPresentIsPeerError(t *testing.T) {
	sd, _, _ := newTestSeeder(t)
	conn := dialSeeder(t, sd)
	defer conn.Close()

	resp, err := conn.SendAndReceive(protocol.BlockRequest{Filename: "movie.mkv", BlockIndex: 1})
	require.NoError(t, err)
	_, ok := resp.(protocol.PeerError)
	require.True(t, ok)
}

// TestRegistrationLoopReconvergesAfterTrackerRestart exercises spec.md
// §8 scenario 3: a tracker restarted mid-run loses its registry, and the
// seeder's next periodic re-registration must make it reappear in
// PeersOf without anyone re-invoking Start by hand.
func TestRegistrationLoopReconvergesAfterTrackerRestart(t *testing.T) {
	sd, ft, _ := newTestSeeder(t)

	firstReg := trackerreg.New()
	firstSrv, err := trackerserver.New("127.0.0.1:0", firstReg, applog.Nop(), 2*time.Second)
	require.NoError(t, err)
	go firstSrv.Serve()
	trackerAddr := firstSrv.Addr().String()

	require.NoError(t, sd.Start([]string{trackerAddr}, sd.Port()))
	require.Len(t, firstReg.PeersOf(ft.Filename()), 1, "seeder must be visible after the initial Start")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sd.RunRegistrationLoop(ctx, []string{trackerAddr}, sd.Port(), 20*time.Millisecond)

	// Simulate the tracker restarting: stop the old listener and bind a
	// brand-new Server with an empty Registry to the same address.
	require.NoError(t, firstSrv.Stop())
	secondReg := trackerreg.New()
	restarted, err := trackerserver.New(trackerAddr, secondReg, applog.Nop(), 2*time.Second)
	require.NoError(t, err)
	go restarted.Serve()
	defer restarted.Stop()

	require.Eventually(t, func() bool {
		return len(secondReg.PeersOf(ft.Filename())) == 1
	}, 2*time.Second, 10*time.Millisecond, "seeder must reappear in the restarted tracker's registry")
}
