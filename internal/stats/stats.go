// Package stats tracks upload/download throughput per peer and
// exposes aggregate counters to Prometheus. Grounded on the teacher's
// stats/stats.go (a fixed-size ring buffer of recent activity reduced
// with github.com/ahl5esoft/golang-underscore's Chain/Reduce), adapted
// from torrent/peer-id keys to filemesh's host:port PeerEndpoint keys,
// and extended with github.com/prometheus/client_golang counters since
// this module, unlike the teacher, exposes a metrics surface (the
// retrieved anniemaybytes-chihaya tracker wires Prometheus the same
// way for its own request counters).
package stats

import (
	"sync"

	underscore "github.com/ahl5esoft/golang-underscore"
	"github.com/prometheus/client_golang/prometheus"
)

// windowSize is the number of recent ticks averaged into Rate, mirroring
// the teacher's PONDERATION_TIME ring buffer length.
const windowSize = 10

// PeerStat holds the rolling upload/download rate for one remote peer.
type PeerStat struct {
	UploadRate   int64
	DownloadRate int64

	currentUpload    int64
	currentDownload  int64
	uploadActivity   [windowSize]int64
	downloadActivity [windowSize]int64
	i                int
}

// Tracker accumulates throughput for every peer of a single transfer
// and surfaces it to Prometheus. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	peers map[string]*PeerStat

	bytesUploaded   prometheus.Counter
	bytesDownloaded prometheus.Counter
}

// NewTracker builds a Tracker for filename, registering its counters
// against reg. reg may be nil in tests that don't care about metrics
// output.
func NewTracker(filename string, reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		peers: make(map[string]*PeerStat),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_bytes_uploaded_total",
			Help:        "Total bytes uploaded to peers for this transfer.",
			ConstLabels: prometheus.Labels{"filename": filename},
		}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_bytes_downloaded_total",
			Help:        "Total bytes downloaded from peers for this transfer.",
			ConstLabels: prometheus.Labels{"filename": filename},
		}),
	}
	if reg != nil {
		reg.MustRegister(t.bytesUploaded, t.bytesDownloaded)
	}
	return t
}

// RecordUpload attributes n uploaded bytes to peer.
func (t *Tracker) RecordUpload(peer string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statFor(peer).currentUpload += n
	t.bytesUploaded.Add(float64(n))
}

// RecordDownload attributes n downloaded bytes to peer.
func (t *Tracker) RecordDownload(peer string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statFor(peer).currentDownload += n
	t.bytesDownloaded.Add(float64(n))
}

func (t *Tracker) statFor(peer string) *PeerStat {
	ps, ok := t.peers[peer]
	if !ok {
		ps = &PeerStat{}
		t.peers[peer] = ps
	}
	return ps
}

func sumReduce(acc int64, x int64, _ int) int64 {
	return acc + x
}

// windowAverage reduces a window of per-tick samples to their mean via
// golang-underscore's Chain/Reduce, matching how the teacher collapses
// its own ring buffer.
func windowAverage(activity [windowSize]int64) int64 {
	var sum int64
	underscore.Chain(activity).Reduce(int64(0), sumReduce).Value(&sum)
	return sum / windowSize
}

// advance records this tick's byte counts into the ring buffer slot at
// ps.i, rolls ps.i forward, and clears the current-interval counters,
// returning the refreshed upload/download rates.
func (ps *PeerStat) advance() (uploadRate, downloadRate int64) {
	ps.uploadActivity[ps.i] = ps.currentUpload
	ps.downloadActivity[ps.i] = ps.currentDownload

	uploadRate = windowAverage(ps.uploadActivity)
	downloadRate = windowAverage(ps.downloadActivity)

	ps.i = (ps.i + 1) % windowSize
	ps.currentUpload = 0
	ps.currentDownload = 0
	return uploadRate, downloadRate
}

// Tick rolls each peer's current-interval counters into its activity
// window and recomputes rates, returning a snapshot. Call this once
// per sampling interval (e.g. every second) from a single goroutine.
func (t *Tracker) Tick() map[string]PeerStat {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]PeerStat, len(t.peers))
	for peer, ps := range t.peers {
		ps.UploadRate, ps.DownloadRate = ps.advance()
		snapshot[peer] = *ps
	}
	return snapshot
}

// RemovePeer drops a peer's stats, e.g. once its connection is poisoned
// and no replacement has been established.
func (t *Tracker) RemovePeer(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peer)
}
