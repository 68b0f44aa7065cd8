// Package protocol defines the wire message vocabulary exchanged between
// clients and trackers, and between clients themselves, along with the
// codec that serializes them onto a byte stream.
package protocol

import "fmt"

// PeerEndpoint identifies a client's data-serving address. Two endpoints
// are equal iff both fields match; it is safe to use as a map key or a
// golang-set element.
type PeerEndpoint struct {
	Host     string
	DataPort uint16
}

func (e PeerEndpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.DataPort)
}

// TrackerEndpoint identifies a tracker process.
type TrackerEndpoint struct {
	Host string
	Port uint16
}

func (e TrackerEndpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// MessageType tags the closed union of messages this protocol carries.
type MessageType uint8

const (
	TypeRegisterPeer MessageType = iota + 1
	TypePeerList
	TypeSuccess
	TypePeerListResp
	TypeTrackerError
	TypeMetadataRequest
	TypeBlockRequest
	TypeBitmapRequest
	TypeBitmapResp
	TypeMetadataResp
	TypeBlockResp
	TypePeerError
)

func (t MessageType) String() string {
	switch t {
	case TypeRegisterPeer:
		return "RegisterPeer"
	case TypePeerList:
		return "PeerList"
	case TypeSuccess:
		return "Success"
	case TypePeerListResp:
		return "PeerListResp"
	case TypeTrackerError:
		return "TrackerError"
	case TypeMetadataRequest:
		return "MetadataRequest"
	case TypeBlockRequest:
		return "BlockRequest"
	case TypeBitmapRequest:
		return "BitmapRequest"
	case TypeBitmapResp:
		return "BitmapResp"
	case TypeMetadataResp:
		return "MetadataResp"
	case TypeBlockResp:
		return "BlockResp"
	case TypePeerError:
		return "PeerError"
	default:
		return "Unknown"
	}
}

// Message is implemented by every member of the wire vocabulary.
type Message interface {
	Type() MessageType
}

// Tracker requests

type RegisterPeer struct {
	Filename string
	DataPort uint16
}

func (RegisterPeer) Type() MessageType { return TypeRegisterPeer }

type PeerList struct {
	Filename string
}

func (PeerList) Type() MessageType { return TypePeerList }

// Tracker responses

type Success struct{}

func (Success) Type() MessageType { return TypeSuccess }

type PeerListResp struct {
	Peers []PeerEndpoint
}

func (PeerListResp) Type() MessageType { return TypePeerListResp }

type TrackerError struct {
	Reason string
}

func (TrackerError) Type() MessageType { return TypeTrackerError }

// Peer requests

type MetadataRequest struct {
	Filename string
}

func (MetadataRequest) Type() MessageType { return TypeMetadataRequest }

type BlockRequest struct {
	Filename   string
	BlockIndex uint32
}

func (BlockRequest) Type() MessageType { return TypeBlockRequest }

// BitmapRequest asks a peer for its current blocksPresent bitmap for a
// file. Not in spec.md's closed message vocabulary verbatim, but spec.md
// §4.7.2.b explicitly leaves the bitmap-freshness mechanism to the
// implementer; this is the chosen dedicated message.
type BitmapRequest struct {
	Filename string
}

func (BitmapRequest) Type() MessageType { return TypeBitmapRequest }

type BitmapResp struct {
	Bitmap []byte
}

func (BitmapResp) Type() MessageType { return TypeBitmapResp }

// Peer responses

type MetadataResp struct {
	FileSize  uint64
	BlockSize uint32
}

func (MetadataResp) Type() MessageType { return TypeMetadataResp }

type BlockResp struct {
	BlockIndex uint32
	Bytes      []byte
}

func (BlockResp) Type() MessageType { return TypeBlockResp }

type PeerError struct {
	Reason string
}

func (PeerError) Type() MessageType { return TypePeerError }
