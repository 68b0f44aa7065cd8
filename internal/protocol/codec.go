package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// maxFrameLength bounds any single length-prefixed field (a string, a
// byte slice, a peer list) the decoder is willing to allocate for.
// Guards against a corrupt or hostile length field forcing a huge
// allocation; frames larger than this are truncated/corrupt by
// definition for this protocol.
const maxFrameLength = 64 * 1024 * 1024

// Encode writes msg to w as a single self-describing frame: a type tag
// followed by the message's fields, each variable-length field
// preceded by its own length.
func Encode(w io.Writer, msg Message) error {
	bw := &binWriter{w: w}
	bw.writeUint8(uint8(msg.Type()))

	switch m := msg.(type) {
	case RegisterPeer:
		bw.writeString(m.Filename)
		bw.writeUint16(m.DataPort)
	case PeerList:
		bw.writeString(m.Filename)
	case Success:
		// no fields
	case PeerListResp:
		bw.writeUint32(uint32(len(m.Peers)))
		for _, p := range m.Peers {
			bw.writeString(p.Host)
			bw.writeUint16(p.DataPort)
		}
	case TrackerError:
		bw.writeString(m.Reason)
	case MetadataRequest:
		bw.writeString(m.Filename)
	case BlockRequest:
		bw.writeString(m.Filename)
		bw.writeUint32(m.BlockIndex)
	case BitmapRequest:
		bw.writeString(m.Filename)
	case BitmapResp:
		bw.writeBytes(m.Bitmap)
	case MetadataResp:
		bw.writeUint64(m.FileSize)
		bw.writeUint32(m.BlockSize)
	case BlockResp:
		bw.writeUint32(m.BlockIndex)
		bw.writeBytes(m.Bytes)
	case PeerError:
		bw.writeString(m.Reason)
	default:
		return newProtocolError("encode: unknown message type %T", msg)
	}
	return bw.err
}

// Decode reads exactly one message from r. It returns a *ProtocolError
// for any unknown tag, truncated frame, or out-of-range length.
func Decode(r io.Reader) (Message, error) {
	br := &binReader{r: r}
	tag := MessageType(br.readUint8())
	if br.err != nil {
		return nil, br.err
	}

	var msg Message
	switch tag {
	case TypeRegisterPeer:
		filename := br.readString()
		port := br.readUint16()
		msg = RegisterPeer{Filename: filename, DataPort: port}
	case TypePeerList:
		msg = PeerList{Filename: br.readString()}
	case TypeSuccess:
		msg = Success{}
	case TypePeerListResp:
		n := br.readUint32()
		if n > maxFrameLength {
			return nil, newProtocolError("peer list length %d exceeds limit", n)
		}
		var peers []PeerEndpoint
		if n > 0 {
			peers = make([]PeerEndpoint, 0, n)
			for i := uint32(0); i < n && br.err == nil; i++ {
				host := br.readString()
				port := br.readUint16()
				peers = append(peers, PeerEndpoint{Host: host, DataPort: port})
			}
		}
		msg = PeerListResp{Peers: peers}
	case TypeTrackerError:
		msg = TrackerError{Reason: br.readString()}
	case TypeMetadataRequest:
		msg = MetadataRequest{Filename: br.readString()}
	case TypeBlockRequest:
		filename := br.readString()
		idx := br.readUint32()
		msg = BlockRequest{Filename: filename, BlockIndex: idx}
	case TypeBitmapRequest:
		msg = BitmapRequest{Filename: br.readString()}
	case TypeBitmapResp:
		msg = BitmapResp{Bitmap: br.readBytes()}
	case TypeMetadataResp:
		size := br.readUint64()
		blockSize := br.readUint32()
		msg = MetadataResp{FileSize: size, BlockSize: blockSize}
	case TypeBlockResp:
		idx := br.readUint32()
		data := br.readBytes()
		msg = BlockResp{BlockIndex: idx, Bytes: data}
	case TypePeerError:
		msg = PeerError{Reason: br.readString()}
	default:
		return nil, newProtocolError("unknown message tag %d", tag)
	}

	if br.err != nil {
		if errors.Is(br.err, io.EOF) || errors.Is(br.err, io.ErrUnexpectedEOF) {
			return nil, newProtocolError("truncated frame: %v", br.err)
		}
		return nil, br.err
	}
	return msg, nil
}

// binWriter/binReader accumulate the first error encountered so call
// sites can chain writes/reads without checking each one, mirroring the
// teacher's wire.go use of binary.Write/binary.Read per field.

type binWriter struct {
	w   io.Writer
	err error
}

func (bw *binWriter) writeUint8(v uint8) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, binary.BigEndian, v)
}

func (bw *binWriter) writeUint16(v uint16) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, binary.BigEndian, v)
}

func (bw *binWriter) writeUint32(v uint32) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, binary.BigEndian, v)
}

func (bw *binWriter) writeUint64(v uint64) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, binary.BigEndian, v)
}

func (bw *binWriter) writeBytes(b []byte) {
	if bw.err != nil {
		return
	}
	bw.writeUint32(uint32(len(b)))
	if bw.err != nil || len(b) == 0 {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *binWriter) writeString(s string) {
	bw.writeBytes([]byte(s))
}

type binReader struct {
	r   io.Reader
	err error
}

func (br *binReader) readUint8() uint8 {
	var v uint8
	if br.err != nil {
		return v
	}
	br.err = binary.Read(br.r, binary.BigEndian, &v)
	return v
}

func (br *binReader) readUint16() uint16 {
	var v uint16
	if br.err != nil {
		return v
	}
	br.err = binary.Read(br.r, binary.BigEndian, &v)
	return v
}

func (br *binReader) readUint32() uint32 {
	var v uint32
	if br.err != nil {
		return v
	}
	br.err = binary.Read(br.r, binary.BigEndian, &v)
	return v
}

func (br *binReader) readUint64() uint64 {
	var v uint64
	if br.err != nil {
		return v
	}
	br.err = binary.Read(br.r, binary.BigEndian, &v)
	return v
}

func (br *binReader) readBytes() []byte {
	n := br.readUint32()
	if br.err != nil {
		return nil
	}
	if n > maxFrameLength {
		br.err = newProtocolError("field length %d exceeds limit", n)
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		br.err = newProtocolError("truncated frame: %v", err)
		return nil
	}
	return buf
}

func (br *binReader) readString() string {
	return string(br.readBytes())
}
