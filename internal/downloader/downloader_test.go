package downloader

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nodeswarm/filemesh/internal/applog"
	"github.com/nodeswarm/filemesh/internal/seeder"
	"github.com/nodeswarm/filemesh/internal/storage"
	"github.com/nodeswarm/filemesh/internal/trackerreg"
	"github.com/nodeswarm/filemesh/internal/trackerserver"
	"github.com/nodeswarm/filemesh/internal/transfer"
)

func TestBootstrapAndDownloadEndToEnd(t *testing.T) {
	const filename = "movie.mkv"
	const content = "the quick brown fox jumps over the lazy dog, times two for good measure!"

	reg := trackerreg.New()
	tsrv, err := trackerserver.New("127.0.0.1:0", reg, applog.Nop(), 2*time.Second)
	require.NoError(t, err)
	go tsrv.Serve()
	defer tsrv.Stop()

	seedFT := transfer.New(filename, filename)
	seedFT.SetMetadata(int64(len(content)), 8)
	seedFS := afero.NewMemMapFs()
	seedStore := storage.New(seedFS, filename)
	require.NoError(t, seedStore.Open())
	require.NoError(t, seedStore.Truncate(int64(len(content))))
	require.NoError(t, seedStore.WriteBlock(0, []byte(content)))
	for i := 0; i < seedFT.NumBlocks(); i++ {
		seedFT.RecordBlock(i)
	}

	sd, err := seeder.New(seedFT, seedStore, nil, 2*time.Second, applog.Nop(), "127.0.0.1:0")
	require.NoError(t, err)
	go sd.Serve()
	defer sd.Stop()

	require.NoError(t, sd.Start([]string{tsrv.Addr().String()}, sd.Port()))

	downFT := transfer.New(filename, filename)
	downFS := afero.NewMemMapFs()
	downStore := storage.New(downFS, filename)
	dl := New(downFT, downStore, nil, 2*time.Second, time.Hour, applog.Nop())

	require.NoError(t, dl.Bootstrap([]string{tsrv.Addr().String()}))
	require.True(t, downFT.MetadataLoaded())
	require.Equal(t, int64(len(content)), downFT.FileSize())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = dl.StartWorkers(ctx)
	require.NoError(t, err)
	require.True(t, downFT.IsComplete())

	got, err := downStore.ReadBlock(0, int64(len(content)))
	require.NoError(t, err)
	require.Equal(t, content, string(got))
}

func TestBootstrapFailsWithNoMetadataWhenSwarmIsEmpty(t *testing.T) {
	reg := trackerreg.New()
	tsrv, err := trackerserver.New("127.0.0.1:0", reg, applog.Nop(), 2*time.Second)
	require.NoError(t, err)
	go tsrv.Serve()
	defer tsrv.Stop()

	ft := transfer.New("nobody-has-this.bin", "nobody-has-this.bin")
	store := storage.New(afero.NewMemMapFs(), "nobody-has-this.bin")
	dl := New(ft, store, nil, 500*time.Millisecond, time.Hour, applog.Nop())

	err = dl.Bootstrap([]string{tsrv.Addr().String()})
	require.Error(t, err)
}
