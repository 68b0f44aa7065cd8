// Package transfer implements FileTransfer (spec.md §3, §4.5): the
// per-file client-side state shared between a file's Seeder and
// Downloader. Grounded on the teacher's torrent/torrent.go (the
// per-swarm value object) and storage/randomAccessStorage.go's use of
// github.com/boljen/go-bitmap for the completion bitmap, generalized
// from a BitTorrent piece bitmap tied to a parsed .torrent file to an
// arbitrary-filename block bitmap per spec.md §3.
package transfer

import (
	"fmt"
	"math"
	"sync"

	"github.com/boljen/go-bitmap"
	mapset "github.com/deckarep/golang-set"

	"github.com/nodeswarm/filemesh/internal/protocol"
)

// ErrMetadataAlreadySet is returned by nothing directly; SetMetadata
// silently keeps the first value per spec.md §4.5/§8, matching the
// original Java's setMetadata early-return. Kept as a named error only
// for components that want to distinguish "no-op because already set"
// from a genuine failure in a future extension.
type ErrMetadataAlreadySet struct{}

func (ErrMetadataAlreadySet) Error() string { return "metadata already set" }

// FileTransfer holds the mutable swarm state for a single named file:
// whether its metadata has been loaded, the block bitmaps, and the
// additive sets of trackers and seeds known for it. A FileTransfer is
// safe for concurrent use.
type FileTransfer struct {
	mu sync.Mutex

	filename  string
	localPath string

	metadataLoaded bool
	fileSize       int64
	blockSize      int64
	numBlocks      int

	blocksPresent  bitmap.Bitmap
	blocksAssigned bitmap.Bitmap

	trackers mapset.Set // protocol.TrackerEndpoint
	seeds    mapset.Set // protocol.PeerEndpoint

	seeding     bool
	downloading bool
}

// New creates a FileTransfer for filename, to be materialized at
// localPath once metadata is known.
func New(filename, localPath string) *FileTransfer {
	return &FileTransfer{
		filename:  filename,
		localPath: localPath,
		trackers:  mapset.NewSet(),
		seeds:     mapset.NewSet(),
	}
}

func (f *FileTransfer) Filename() string  { return f.filename }
func (f *FileTransfer) LocalPath() string { return f.localPath }

// NumBlocks returns ceil(fileSize/blockSize), the corrected formula per
// spec.md §9 (the original Java's integer-division numBlocks() silently
// truncated short files to zero blocks).
func numBlocks(fileSize, blockSize int64) int {
	if blockSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(fileSize) / float64(blockSize)))
}

// SetMetadata records fileSize/blockSize the first time it is called
// for this transfer. Subsequent calls are no-ops that return the
// already-set values, mirroring FileTransfer.java's setMetadata guard
// and spec.md invariant 3 (blockSize/fileSize immutable once set).
func (f *FileTransfer) SetMetadata(fileSize int64, blockSize int64) (actualFileSize, actualBlockSize int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.metadataLoaded {
		return f.fileSize, f.blockSize
	}

	f.fileSize = fileSize
	f.blockSize = blockSize
	f.numBlocks = numBlocks(fileSize, blockSize)
	f.blocksPresent = bitmap.New(f.numBlocks)
	f.blocksAssigned = bitmap.New(f.numBlocks)
	f.metadataLoaded = true
	return fileSize, blockSize
}

func (f *FileTransfer) MetadataLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metadataLoaded
}

func (f *FileTransfer) FileSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileSize
}

func (f *FileTransfer) BlockSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockSize
}

func (f *FileTransfer) NumBlocks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numBlocks
}

// BlockLength returns the byte length of block i: blockSize for every
// block but the last, which may be shorter (spec.md §6).
func (f *FileTransfer) BlockLength(i int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < f.numBlocks-1 {
		return f.blockSize
	}
	return f.fileSize - int64(f.numBlocks-1)*f.blockSize
}

// RecordBlock marks block i present. A no-op if the bit is already
// set, per spec.md §4.5/§8 (idempotent, last-writer discarded).
// Returns whether this call is the one that set the bit (false means
// it was already present and the caller should not re-persist bytes).
func (f *FileTransfer) RecordBlock(i int) (newlySet bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocksPresent.Get(i) {
		return false
	}
	f.blocksPresent.Set(i, true)
	return true
}

// HasBlock reports whether block i is present locally.
func (f *FileTransfer) HasBlock(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocksPresent.Get(i)
}

// IsComplete reports whether every block is present (spec.md §4.5).
// For a zero-block file this is true immediately (spec.md §8 boundary
// case: fileSize=0 implies numBlocks=0 implies complete).
func (f *FileTransfer) IsComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cardinalityLocked(f.blocksPresent) == f.numBlocks
}

func (f *FileTransfer) cardinalityLocked(b bitmap.Bitmap) int {
	n := 0
	for i := 0; i < f.numBlocks; i++ {
		if b.Get(i) {
			n++
		}
	}
	return n
}

// LocalBitmap returns a snapshot copy of blocksPresent, suitable for
// sending in a BitmapResp or handing to the scheduler.
func (f *FileTransfer) LocalBitmap() bitmap.Bitmap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneBitmap(f.blocksPresent, f.numBlocks)
}

// AssignedBitmap returns a snapshot copy of blocksAssigned.
func (f *FileTransfer) AssignedBitmap() bitmap.Bitmap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneBitmap(f.blocksAssigned, f.numBlocks)
}

// TryAssign sets blocksAssigned[i] under the transfer's guard. It sets
// the bit unconditionally and does not report whether it was already
// set; the test-and-set that keeps two workers off the same
// non-endgame block is done by the scheduler inside WithLock.
func (f *FileTransfer) TryAssign(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocksAssigned.Set(i, true)
}

// ClearAssigned releases block i so another worker may pick it up,
// after a failed BlockRequest or I/O timeout (spec.md §4.7.2.c, §5).
func (f *FileTransfer) ClearAssigned(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocksAssigned.Set(i, false)
}

// WithLock runs fn with the transfer's guard held, giving the
// scheduler a single critical section across reading local/assigned
// and deciding+setting assigned (spec.md §4.6). fn receives bitmap
// views, not copies, and must not retain them past the call.
func (f *FileTransfer) WithLock(fn func(local, assigned bitmap.Bitmap, numBlocks int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.blocksPresent, f.blocksAssigned, f.numBlocks)
}

func cloneBitmap(b bitmap.Bitmap, numBlocks int) bitmap.Bitmap {
	clone := bitmap.New(numBlocks)
	for i := 0; i < numBlocks; i++ {
		if b.Get(i) {
			clone.Set(i, true)
		}
	}
	return clone
}

// AddTracker adds a tracker to the transfer's tracker set. Additive per
// spec.md §3.
func (f *FileTransfer) AddTracker(t protocol.TrackerEndpoint) {
	f.trackers.Add(t)
}

// Trackers returns the current set of trackers for this transfer.
func (f *FileTransfer) Trackers() []protocol.TrackerEndpoint {
	items := f.trackers.ToSlice()
	out := make([]protocol.TrackerEndpoint, 0, len(items))
	for _, v := range items {
		out = append(out, v.(protocol.TrackerEndpoint))
	}
	return out
}

// AddSeed adds a peer to the transfer's seed set, deduplicated. Returns
// true if this peer was not already known.
func (f *FileTransfer) AddSeed(p protocol.PeerEndpoint) bool {
	if f.seeds.Contains(p) {
		return false
	}
	f.seeds.Add(p)
	return true
}

// Seeds returns the current set of known seeds for this transfer.
func (f *FileTransfer) Seeds() []protocol.PeerEndpoint {
	items := f.seeds.ToSlice()
	out := make([]protocol.PeerEndpoint, 0, len(items))
	for _, v := range items {
		out = append(out, v.(protocol.PeerEndpoint))
	}
	return out
}

func (f *FileTransfer) SetSeeding(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeding = v
}

func (f *FileTransfer) Seeding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seeding
}

func (f *FileTransfer) SetDownloading(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloading = v
}

func (f *FileTransfer) Downloading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloading
}

// String renders a one-line diagnostic summary, the Go counterpart of
// the original Java's FileTransfer.toString().
func (f *FileTransfer) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.metadataLoaded {
		return fmt.Sprintf("[FILE] filename=%s, no metadata", f.filename)
	}
	present := f.cardinalityLocked(f.blocksPresent)
	return fmt.Sprintf(
		"[FILE] filename=%s, filesize=%dB, blocksize=%d, numblocks=%d/%d, numTrackers=%d, numSeeds=%d",
		f.filename, f.fileSize, f.blockSize, present, f.numBlocks, f.trackers.Cardinality(), f.seeds.Cardinality(),
	)
}
