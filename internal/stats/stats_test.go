package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndTickAveragesOverWindow(t *testing.T) {
	tr := NewTracker("movie.mkv", nil)

	tr.RecordDownload("10.0.0.1:7000", 100)
	snap := tr.Tick()

	ps, ok := snap["10.0.0.1:7000"]
	assert.True(t, ok)
	assert.Equal(t, int64(100/windowSize), ps.DownloadRate)
}

func TestTickResetsCurrentCounters(t *testing.T) {
	tr := NewTracker("movie.mkv", nil)
	tr.RecordUpload("peerA", 50)
	tr.Tick()

	tr.RecordUpload("peerA", 0)
	snap := tr.Tick()
	assert.Equal(t, int64(0), snap["peerA"].currentUpload)
}

func TestRemovePeerDropsStats(t *testing.T) {
	tr := NewTracker("movie.mkv", nil)
	tr.RecordUpload("peerA", 10)
	tr.RemovePeer("peerA")

	snap := tr.Tick()
	_, ok := snap["peerA"]
	assert.False(t, ok)
}
