package mover

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/tierctl/internal/config"
)

func TestParseLocation(t *testing.T) {
	bucket, key, err := ParseLocation("s3://cold/fileA")
	require.NoError(t, err)
	assert.Equal(t, "cold", bucket)
	assert.Equal(t, "fileA", key)

	for _, bad := range []string{"/tmp/fileA", "s3://cold", "s3:///key", "s3://cold/"} {
		_, _, err := ParseLocation(bad)
		assert.Error(t, err, bad)
	}
}

func TestArchivePutUploadsAndRemovesLocal(t *testing.T) {
	objs := newMemObjects()
	a := NewArchive(objs, "cold", NewLimiter(8<<20), nil)
	warm := newTestDisk(t)
	writeFile(t, warm.Path("fileA"), "archived bytes")

	loc, err := a.Put(context.Background(), warm.Path("fileA"), "fileA")
	require.NoError(t, err)
	assert.Equal(t, "s3://cold/fileA", loc)
	assert.True(t, objs.has("cold", "fileA"))
	assert.NoFileExists(t, warm.Path("fileA"))

	n, err := a.Size(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, int64(len("archived bytes")), n)
}

func TestArchivePutFailureKeepsLocal(t *testing.T) {
	objs := newMemObjects()
	objs.failPut = errInjected
	a := NewArchive(objs, "cold", nil, nil)
	warm := newTestDisk(t)
	writeFile(t, warm.Path("f"), "x")

	_, err := a.Put(context.Background(), warm.Path("f"), "f")
	assert.ErrorIs(t, err, errInjected)
	assert.FileExists(t, warm.Path("f"))
	assert.False(t, objs.has("cold", "f"))
}

func TestArchivePutRefusesExistingKey(t *testing.T) {
	objs := newMemObjects()
	objs.objects["cold/f"] = []byte("other")
	a := NewArchive(objs, "cold", nil, nil)
	warm := newTestDisk(t)
	writeFile(t, warm.Path("f"), "x")

	_, err := a.Put(context.Background(), warm.Path("f"), "f")
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.FileExists(t, warm.Path("f"))
}

func TestArchiveTakeDownloadsAndRemovesRemote(t *testing.T) {
	objs := newMemObjects()
	objs.objects["cold/fileD"] = []byte("cold data")
	a := NewArchive(objs, "cold", nil, nil)
	warm := newTestDisk(t)

	loc, err := a.Take(context.Background(), "s3://cold/fileD", warm, "fileD")
	require.NoError(t, err)
	assert.Equal(t, warm.Path("fileD"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "cold data", string(data))
	assert.False(t, objs.has("cold", "fileD"))
}

func TestArchiveTakeMissing(t *testing.T) {
	a := NewArchive(newMemObjects(), "cold", nil, nil)
	warm := newTestDisk(t)

	_, err := a.Take(context.Background(), "s3://cold/ghost", warm, "ghost")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoFileExists(t, warm.Path("ghost"))
}

func TestArchiveTakeRollsBackWhenRemoteDeleteFails(t *testing.T) {
	objs := newMemObjects()
	objs.objects["cold/f"] = []byte("data")
	objs.failRemove = errInjected
	a := NewArchive(objs, "cold", nil, nil)
	warm := newTestDisk(t)

	_, err := a.Take(context.Background(), "s3://cold/f", warm, "f")
	assert.ErrorIs(t, err, errInjected)
	assert.NoFileExists(t, warm.Path("f"))
	assert.True(t, objs.has("cold", "f"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "fileA", BaseName("s3://cold/fileA"))
	assert.Equal(t, "fileA", BaseName("/mnt/ssd/fileA"))
	assert.Equal(t, "fileA", BaseName("mnt_ssd/fileA"))
}

func TestBackendsProbe(t *testing.T) {
	objs := newMemObjects()
	objs.objects["cold/both"] = []byte("c")
	b := Backends{Hot: newTestDisk(t), Warm: newTestDisk(t), Cold: NewArchive(objs, "cold", nil, nil)}
	writeFile(t, b.Hot.Path("both"), "h")

	found := b.Probe(context.Background(), "both")
	assert.Len(t, found, 2)
	assert.Empty(t, b.Probe(context.Background(), "nothing"))
}

func TestNewBackendsDegradesWhenArchiveUnreachable(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Hot = filepath.Join(root, "ssd")
	cfg.Paths.Warm = filepath.Join(root, "hdd")
	cfg.UseArchivalSimulation = false
	cfg.Archive = config.ArchiveConfig{Bucket: "cold"}

	b, err := NewBackends(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, b.Hot)
	require.NotNil(t, b.Warm)

	u, ok := b.Cold.(*Unreachable)
	require.True(t, ok, "cold backend is %T", b.Cold)
	assert.Equal(t, "s3://cold/x", u.Locate("x"))

	src := b.Hot.Path("x")
	writeFile(t, src, "payload")
	_, err = b.Cold.Put(context.Background(), src, "x")
	assert.ErrorIs(t, err, ErrArchiveUnreachable)
	assert.FileExists(t, src)

	_, err = b.Cold.Take(context.Background(), "s3://cold/x", b.Warm, "x")
	assert.ErrorIs(t, err, ErrArchiveUnreachable)
	_, err = b.Cold.Size(context.Background(), "s3://cold/x")
	assert.ErrorIs(t, err, ErrArchiveUnreachable)
}
