package protocol

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, msg))
	decoded, err := Decode(&buf)
	require.NoError(t, err)
	return decoded
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []Message{
		RegisterPeer{Filename: "movie.mkv", DataPort: 6001},
		PeerList{Filename: "movie.mkv"},
		Success{},
		PeerListResp{Peers: []PeerEndpoint{
			{Host: "10.0.0.1", DataPort: 6001},
			{Host: "10.0.0.2", DataPort: 6002},
		}},
		PeerListResp{Peers: nil},
		TrackerError{Reason: "unknown file"},
		MetadataRequest{Filename: "movie.mkv"},
		BlockRequest{Filename: "movie.mkv", BlockIndex: 41},
		BitmapRequest{Filename: "movie.mkv"},
		BitmapResp{Bitmap: []byte{0xff, 0x01}},
		MetadataResp{FileSize: 10, BlockSize: 3},
		BlockResp{BlockIndex: 3, Bytes: []byte("abc")},
		BlockResp{BlockIndex: 0, Bytes: []byte{}},
		PeerError{Reason: "not available"},
	}

	for _, original := range cases {
		original := original
		t.Run(original.Type().String(), func(t *testing.T) {
			got := roundTrip(t, original)
			if diff := cmp.Diff(original, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xEE})
	_, err := Decode(buf)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestDecodeTruncatedFrame(t *testing.T) {
	var full bytes.Buffer
	require.NoError(t, Encode(&full, BlockResp{BlockIndex: 1, Bytes: []byte("hello")}))
	truncated := bytes.NewBuffer(full.Bytes()[:full.Len()-3])
	_, err := Decode(truncated)
	require.Error(t, err)
}

func TestDecodeOutOfRangeLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(uint8(TypeBlockResp))
	// block index
	buf.Write([]byte{0, 0, 0, 1})
	// absurd byte-slice length
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := Decode(&buf)
	require.Error(t, err)
}
