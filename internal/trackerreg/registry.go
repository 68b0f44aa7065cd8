// Package trackerreg implements the tracker-side peer registry: a
// process-wide, append-only mapping from filename to the set of peers
// currently claiming to serve it. Grounded on the teacher's
// peer/peerManager.go use of golang-set for peer bookkeeping, repurposed
// here from an in-memory swarm-local peer map to the cross-process
// tracker registry spec.md §4.2 describes.
package trackerreg

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/nodeswarm/filemesh/internal/protocol"
)

// Registry is the tracker's per-file peer set. The zero value is not
// usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	files    map[string]mapset.Set
	maxPeers int // 0 = unlimited
}

// New returns an empty registry with no per-file peer cap.
func New() *Registry {
	return NewWithMaxPeers(0)
}

// NewWithMaxPeers returns an empty registry that silently stops
// accepting new peers for a filename once its set reaches maxPeers
// (0 = unlimited), per internal/config's MaxPeersPerTransfer setting.
// A peer already present is still deduplicated as a no-op regardless
// of the cap.
func NewWithMaxPeers(maxPeers int) *Registry {
	return &Registry{
		files:    make(map[string]mapset.Set),
		maxPeers: maxPeers,
	}
}

// AddPeer registers endpoint as a server of filename. Idempotent: a
// peer already present in the set is a no-op. Once the registry's
// maxPeers cap is reached for filename, additional new peers are
// silently dropped. Safe for concurrent use with AddPeer/PeersOf on
// the same or a different filename.
func (r *Registry) AddPeer(filename string, endpoint protocol.PeerEndpoint) {
	r.mu.Lock()
	set, ok := r.files[filename]
	if !ok {
		set = mapset.NewSet()
		r.files[filename] = set
	}
	r.mu.Unlock()

	if set.Contains(endpoint) {
		return
	}
	if r.maxPeers > 0 && set.Cardinality() >= r.maxPeers {
		return
	}
	set.Add(endpoint)
}

// PeersOf returns a stable snapshot of the peers registered for
// filename. Unknown filenames yield an empty (non-nil) slice.
func (r *Registry) PeersOf(filename string) []protocol.PeerEndpoint {
	r.mu.RLock()
	set, ok := r.files[filename]
	r.mu.RUnlock()
	if !ok {
		return []protocol.PeerEndpoint{}
	}

	snapshot := set.ToSlice()
	peers := make([]protocol.PeerEndpoint, 0, len(snapshot))
	for _, v := range snapshot {
		peers = append(peers, v.(protocol.PeerEndpoint))
	}
	return peers
}

// NumFiles reports how many distinct filenames have ever been
// registered. Used only for diagnostics/metrics; the registry never
// shrinks.
func (r *Registry) NumFiles() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}
