package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeswarm/filemesh/internal/protocol"
)

func TestSetMetadataIsSetOnce(t *testing.T) {
	ft := New("movie.mkv", "/tmp/movie.mkv")

	fileSize, blockSize := ft.SetMetadata(1000, 256)
	assert.Equal(t, int64(1000), fileSize)
	assert.Equal(t, int64(256), blockSize)

	fileSize, blockSize = ft.SetMetadata(999999, 1)
	assert.Equal(t, int64(1000), fileSize, "second SetMetadata must be a no-op")
	assert.Equal(t, int64(256), blockSize)
}

func TestNumBlocksUsesCeilDivision(t *testing.T) {
	ft := New("f", "")
	ft.SetMetadata(1000, 256)
	require.Equal(t, 4, ft.NumBlocks())

	ft2 := New("g", "")
	ft2.SetMetadata(512, 256)
	require.Equal(t, 2, ft2.NumBlocks())
}

func TestZeroLengthFileIsImmediatelyComplete(t *testing.T) {
	ft := New("empty", "")
	ft.SetMetadata(0, 256)
	assert.Equal(t, 0, ft.NumBlocks())
	assert.True(t, ft.IsComplete())
}

func TestRecordBlockIsIdempotent(t *testing.T) {
	ft := New("f", "")
	ft.SetMetadata(1000, 256)

	assert.True(t, ft.RecordBlock(0))
	assert.False(t, ft.RecordBlock(0))
	assert.True(t, ft.HasBlock(0))
	assert.False(t, ft.HasBlock(1))
}

func TestIsCompleteRequiresEveryBlock(t *testing.T) {
	ft := New("f", "")
	ft.SetMetadata(1000, 256)

	for i := 0; i < ft.NumBlocks()-1; i++ {
		ft.RecordBlock(i)
	}
	assert.False(t, ft.IsComplete())
	ft.RecordBlock(ft.NumBlocks() - 1)
	assert.True(t, ft.IsComplete())
}

func TestBlockLengthShortensLastBlock(t *testing.T) {
	ft := New("f", "")
	ft.SetMetadata(1000, 256)
	assert.Equal(t, int64(256), ft.BlockLength(0))
	assert.Equal(t, int64(1000-256*3), ft.BlockLength(3))
}

func TestAssignedBitmapIndependentOfPresent(t *testing.T) {
	ft := New("f", "")
	ft.SetMetadata(1000, 256)

	ft.TryAssign(1)
	assert.True(t, ft.AssignedBitmap().Get(1))
	assert.False(t, ft.LocalBitmap().Get(1))

	ft.ClearAssigned(1)
	assert.False(t, ft.AssignedBitmap().Get(1))
}

func TestAddTrackerAndAddSeedAreAdditiveSets(t *testing.T) {
	ft := New("f", "")
	tr := protocol.TrackerEndpoint{Host: "tracker1", Port: 6969}
	ft.AddTracker(tr)
	ft.AddTracker(tr)
	assert.Len(t, ft.Trackers(), 1)

	seed := protocol.PeerEndpoint{Host: "10.0.0.5", DataPort: 7000}
	assert.True(t, ft.AddSeed(seed))
	assert.False(t, ft.AddSeed(seed))
	assert.Len(t, ft.Seeds(), 1)
}

func TestStringBeforeMetadataDoesNotPanic(t *testing.T) {
	ft := New("f", "")
	assert.Contains(t, ft.String(), "no metadata")
}

func TestStringAfterMetadataReportsProgress(t *testing.T) {
	ft := New("f", "")
	ft.SetMetadata(1000, 256)
	ft.RecordBlock(0)
	assert.Contains(t, ft.String(), "1/4")
}
