// Package scheduler implements BlockScheduler (spec.md §4.6), the
// decision point that picks which block a per-peer worker should
// request next. Grounded on the teacher's
// piece/rarestFirstPieceManager.go (rarity-ordered piece selection
// under a single mutex) but generalized from BitTorrent's
// piece/availability-count model to spec.md's simpler three-bitmap
// decision (local, peer, assigned) with least-index tie-breaking
// instead of rarity sort, since this protocol has no peer-availability
// counter to rank by.
package scheduler

import (
	"github.com/boljen/go-bitmap"
)

// Decision is the result of SelectBlock.
type Decision struct {
	Kind  Kind
	Index int // valid only when Kind == IndexDecision
}

type Kind int

const (
	// Complete means the local transfer already holds every block.
	Complete Kind = iota
	// PeerHasNothing means peer \ local is empty: this peer has no
	// block the local transfer is missing.
	PeerHasNothing
	// IndexDecision carries the block to request next in Decision.Index.
	IndexDecision
)

// SelectBlock implements spec.md §4.6 exactly: given the local
// blocksPresent bitmap, a peer's advertised blocksPresent bitmap, and
// the transfer's blocksAssigned bitmap (each sized numBlocks), it
// returns Complete, PeerHasNothing, or an Index decision.
//
// When the returned Index comes from the unassigned-rare-block branch,
// SelectBlock sets assigned[i] before returning (the atomic
// test-and-set spec.md requires). In endgame mode (the unassigned set
// is empty but peer\local is not), assigned is left untouched and
// duplicate in-flight requests for the same block are expected.
//
// Callers must invoke SelectBlock with the transfer's guard already
// held (see transfer.FileTransfer.WithLock) so the read of local/
// assigned and the conditional write to assigned happen atomically
// with respect to other workers on the same transfer.
func SelectBlock(local, peer, assigned bitmap.Bitmap, numBlocks int) Decision {
	if cardinality(local, numBlocks) == numBlocks {
		return Decision{Kind: Complete}
	}

	peerMissingLocal := -1 // least index in peer \ local
	unassignedRare := -1   // least index in (peer \ local) \ assigned

	for i := 0; i < numBlocks; i++ {
		if !peer.Get(i) || local.Get(i) {
			continue
		}
		if peerMissingLocal == -1 {
			peerMissingLocal = i
		}
		if unassignedRare == -1 && !assigned.Get(i) {
			unassignedRare = i
		}
		if unassignedRare != -1 {
			break
		}
	}

	if peerMissingLocal == -1 {
		return Decision{Kind: PeerHasNothing}
	}

	if unassignedRare != -1 {
		assigned.Set(unassignedRare, true)
		return Decision{Kind: IndexDecision, Index: unassignedRare}
	}

	// Endgame: nothing unassigned, but the peer still has something we
	// lack. Duplicate the request rather than stall.
	return Decision{Kind: IndexDecision, Index: peerMissingLocal}
}

func cardinality(b bitmap.Bitmap, numBlocks int) int {
	n := 0
	for i := 0; i < numBlocks; i++ {
		if b.Get(i) {
			n++
		}
	}
	return n
}
