package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "movie.mkv")
	require.NoError(t, s.Open())
	defer s.Close()
	require.NoError(t, s.Truncate(1000))

	payload := []byte("some block bytes")
	offset := BlockOffset(2, 256)
	require.NoError(t, s.WriteBlock(offset, payload))

	got, err := s.ReadBlock(offset, int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadBeforeOpenFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "movie.mkv")
	_, err := s.ReadBlock(0, 10)
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "movie.mkv")
	require.NoError(t, s.Open())
	require.NoError(t, s.Open())
	require.NoError(t, s.Close())
}
