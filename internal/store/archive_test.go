package store

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpipe/contentpipe/internal/pipeline"
)

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	artifactDir := filepath.Join(dir, "artifacts-src")
	require.NoError(t, os.MkdirAll(filepath.Join(artifactDir, "frames"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "final.mp4"), []byte("video-bytes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "frames", "001.png"), []byte("frame"), 0644))

	record := &RunRecord{
		ID:        "run-7",
		ChainName: "video",
		Status:    StatusCompleted,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Report: &pipeline.Report{
			ChainName:      "video",
			TotalCost:      0.86,
			OverallSuccess: true,
		},
	}

	archivePath := filepath.Join(dir, "run-7.tar.gz")
	require.NoError(t, writeArchive(record, artifactDir, archivePath))

	got, artifacts, err := readArchive(archivePath)
	require.NoError(t, err)

	assert.Equal(t, "run-7", got.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, 0.86, got.Report.TotalCost)

	require.Len(t, artifacts, 2)
	byName := map[string][]byte{}
	for _, a := range artifacts {
		byName[a.name] = a.data
	}
	assert.Equal(t, []byte("video-bytes"), byName["final.mp4"])
	assert.Equal(t, []byte("frame"), byName[filepath.Join("frames", "001.png")])
}

func TestArchiveWithoutArtifacts(t *testing.T) {
	dir := t.TempDir()
	record := &RunRecord{ID: "run-8", ChainName: "video", Status: StatusFailed, CreatedAt: time.Now()}

	archivePath := filepath.Join(dir, "run-8.tar.gz")
	require.NoError(t, writeArchive(record, filepath.Join(dir, "no-such-dir"), archivePath))

	got, artifacts, err := readArchive(archivePath)
	require.NoError(t, err)
	assert.Equal(t, "run-8", got.ID)
	assert.Empty(t, artifacts)
}

func TestReadArchiveRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")

	out, err := os.Create(archivePath)
	require.NoError(t, err)
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Mode: 0644, Size: 4}))
	_, err = tw.Write([]byte("oops"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, out.Close())

	_, _, err = readArchive(archivePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes target")
}

func TestReadArchiveRequiresRecord(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "empty.tar.gz")

	out, err := os.Create(archivePath)
	require.NoError(t, err)
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, out.Close())

	_, _, err = readArchive(archivePath)
	assert.Error(t, err)
}

func TestListArchivesNewestFirst(t *testing.T) {
	dir := t.TempDir()
	a := NewArchiver(nil, dir, dir)

	older := filepath.Join(dir, "run-old.tar.gz")
	newer := filepath.Join(dir, "run-new.tar.gz")
	require.NoError(t, os.WriteFile(older, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	names, err := a.ListArchives()
	require.NoError(t, err)
	assert.Equal(t, []string{"run-new.tar.gz", "run-old.tar.gz"}, names)
}

func TestDeleteArchiveRejectsPaths(t *testing.T) {
	a := NewArchiver(nil, t.TempDir(), "")
	assert.Error(t, a.DeleteArchive("../somewhere.tar.gz"))
	assert.Error(t, a.DeleteArchive("nested/somewhere.tar.gz"))
}
