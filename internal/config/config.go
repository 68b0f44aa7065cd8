// Package config loads filemesh's JSON configuration file into a
// generic Map with typed, defaulted accessors. Grounded on the shape of
// the retrieved anniemaybytes-chihaya config package, adapted from a
// single process-wide global (readConfig + sync.Once) to an explicit
// value returned by Load and threaded through constructors — this
// module avoids ambient global state the way spec.md §9 asks the
// tracker registry itself to (an explicit value built at process
// start, not a package singleton).
package config

import (
	"encoding/json"
	"os"
)

// Map is a JSON object with typed, defaulted lookups.
type Map map[string]interface{}

// Settings holds the filemesh-specific configuration values threaded
// into the tracker and client entry points. Any field not present in
// the config file keeps its value from Defaults().
type Settings struct {
	raw Map

	TrackerListenAddr   string
	ClientDataPort      int
	TrackerRefreshDelay int // seconds, spec.md §4.7.3 / §9
	PeerIOTimeout       int // seconds, spec.md §5
	StorageDir          string
	MaxPeersPerTransfer int
}

// Defaults returns the settings filemesh runs with when no config file
// is present, matching spec.md §9's resolution of the tracker-refresh
// and timeout open questions.
func Defaults() Settings {
	return Settings{
		raw:                 Map{},
		TrackerListenAddr:   ":6969",
		ClientDataPort:      0, // 0 = let the OS pick an ephemeral port
		TrackerRefreshDelay: 30,
		PeerIOTimeout:       30,
		StorageDir:          ".",
		MaxPeersPerTransfer: 100,
	}
}

// Load reads a JSON config file at path and overlays it on Defaults().
// A missing or malformed file is not fatal: Load returns the defaults
// and the error, so callers can log-and-continue the way
// FileDownloader.fetchMetadata skips past a single bad peer rather than
// aborting.
func Load(path string) (Settings, error) {
	s := Defaults()

	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	decoder.UseNumber()
	var m Map
	if err := decoder.Decode(&m); err != nil {
		return s, err
	}
	s.raw = m

	if v, ok := m.GetString("trackerListenAddr", s.TrackerListenAddr); ok {
		s.TrackerListenAddr = v
	}
	if v, ok := m.GetInt("clientDataPort", s.ClientDataPort); ok {
		s.ClientDataPort = v
	}
	if v, ok := m.GetInt("trackerRefreshDelaySeconds", s.TrackerRefreshDelay); ok {
		s.TrackerRefreshDelay = v
	}
	if v, ok := m.GetInt("peerIOTimeoutSeconds", s.PeerIOTimeout); ok {
		s.PeerIOTimeout = v
	}
	if v, ok := m.GetString("storageDir", s.StorageDir); ok {
		s.StorageDir = v
	}
	if v, ok := m.GetInt("maxPeersPerTransfer", s.MaxPeersPerTransfer); ok {
		s.MaxPeersPerTransfer = v
	}
	return s, nil
}

func (m Map) GetString(key string, defaultValue string) (string, bool) {
	if result, exists := m[key].(string); exists {
		return result, true
	}
	return defaultValue, false
}

func (m Map) GetInt(key string, defaultValue int) (int, bool) {
	if result, exists := m[key].(json.Number); exists {
		n, err := result.Int64()
		if err != nil {
			return defaultValue, false
		}
		return int(n), true
	}
	return defaultValue, false
}

func (m Map) GetBool(key string, defaultValue bool) (bool, bool) {
	if result, exists := m[key].(bool); exists {
		return result, true
	}
	return defaultValue, false
}
