package trackerreg

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nodeswarm/filemesh/internal/protocol"
)

func TestAddPeerDeduplicates(t *testing.T) {
	r := New()
	ep := protocol.PeerEndpoint{Host: "10.0.0.1", DataPort: 6001}

	r.AddPeer("movie.mkv", ep)
	r.AddPeer("movie.mkv", ep)
	r.AddPeer("movie.mkv", ep)

	assert.ElementsMatch(t, []protocol.PeerEndpoint{ep}, r.PeersOf("movie.mkv"))
}

func TestPeersOfUnknownFileIsEmpty(t *testing.T) {
	r := New()
	assert.Empty(t, r.PeersOf("never-registered"))
}

func TestAddPeerConcurrent(t *testing.T) {
	r := New()
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			r.AddPeer("movie.mkv", protocol.PeerEndpoint{Host: "10.0.0.1", DataPort: uint16(6000 + i)})
		}()
	}
	wg.Wait()

	assert.Len(t, r.PeersOf("movie.mkv"), n)
}

func TestAddPeerRespectsMaxPeersCap(t *testing.T) {
	r := NewWithMaxPeers(2)
	r.AddPeer("movie.mkv", protocol.PeerEndpoint{Host: "10.0.0.1", DataPort: 1})
	r.AddPeer("movie.mkv", protocol.PeerEndpoint{Host: "10.0.0.2", DataPort: 2})
	r.AddPeer("movie.mkv", protocol.PeerEndpoint{Host: "10.0.0.3", DataPort: 3})

	assert.Len(t, r.PeersOf("movie.mkv"), 2)
}

func TestAddPeerCapDoesNotBlockReRegisteringExistingPeer(t *testing.T) {
	r := NewWithMaxPeers(1)
	ep := protocol.PeerEndpoint{Host: "10.0.0.1", DataPort: 1}
	r.AddPeer("movie.mkv", ep)
	r.AddPeer("movie.mkv", ep)

	assert.ElementsMatch(t, []protocol.PeerEndpoint{ep}, r.PeersOf("movie.mkv"))
}

func TestAddPeerDifferentFilesIndependent(t *testing.T) {
	r := New()
	r.AddPeer("a.txt", protocol.PeerEndpoint{Host: "1.1.1.1", DataPort: 1})
	r.AddPeer("b.txt", protocol.PeerEndpoint{Host: "2.2.2.2", DataPort: 2})

	assert.Len(t, r.PeersOf("a.txt"), 1)
	assert.Len(t, r.PeersOf("b.txt"), 1)
	assert.Equal(t, 2, r.NumFiles())
}
