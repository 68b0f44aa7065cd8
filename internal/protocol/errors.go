// Package protocol also defines the error kinds of spec.md §7:
// ProtocolError, TransportError, RequestFailed, NoMetadata,
// DownloadComplete, and NoNewBlocks. Grounded on the fmt.Errorf-based ad
// hoc errors in the teacher's piece/rarestFirstPieceManager.go and
// peer/peer.go, generalized into named, errors.As-matchable types so
// callers can distinguish "skip this peer and move on" from "this
// transfer is done" without string comparison.
package protocol

import "fmt"

// ProtocolError reports a malformed message on the wire: an unknown
// tag, a truncated frame, or a length field outside the bounds the
// codec is willing to trust.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Reason)
}

func newProtocolError(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps an I/O failure (dial, read, write, deadline) on
// a tracker or peer connection. Per spec.md §7's propagation policy,
// a TransportError on a single peer or tracker is logged and that
// remote is skipped; it never tears down the whole transfer.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestFailed reports that a remote peer or tracker answered with an
// explicit error response (PeerError or TrackerError) rather than the
// expected payload.
type RequestFailed struct {
	Remote string
	Reason string
}

func (e *RequestFailed) Error() string {
	return fmt.Sprintf("request failed from %s: %s", e.Remote, e.Reason)
}

// NoMetadata reports that the metadata bootstrap (spec.md §4.7.1)
// exhausted every peer from every tracker without obtaining a valid
// MetadataResp. Fatal to the bootstrap phase; surfaces to the caller.
type NoMetadata struct {
	Filename string
}

func (e *NoMetadata) Error() string {
	return fmt.Sprintf("no metadata obtained for %q: empty or unresponsive swarm", e.Filename)
}

// DownloadComplete is not an error in the conventional sense; it is a
// control signal used to unwind a transfer's block-pump workers once
// FileTransfer.IsComplete() becomes true (spec.md §4.7.2.d).
type DownloadComplete struct {
	Filename string
}

func (e *DownloadComplete) Error() string {
	return fmt.Sprintf("download complete: %s", e.Filename)
}

// NoNewBlocks reports that a peer's advertised bitmap has nothing the
// local transfer is missing (BlockScheduler's PeerHasNothing decision).
// Not fatal: the worker serving that peer should idle or exit depending
// on whether the peer's bitmap might still change.
type NoNewBlocks struct {
	Peer string
}

func (e *NoNewBlocks) Error() string {
	return fmt.Sprintf("peer %s has no blocks we are missing", e.Peer)
}
