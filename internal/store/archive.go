package store

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const recordEntry = "run.json"

// Archiver exports run records together with their artifacts as
// portable tar.gz bundles, and imports them back.
type Archiver struct {
	store      *Store
	archiveDir string
	outputDir  string
}

// NewArchiver creates an archiver. archiveDir defaults under the user's
// home; outputDir is where run artifact directories live.
func NewArchiver(store *Store, archiveDir, outputDir string) *Archiver {
	if archiveDir == "" {
		homeDir, _ := os.UserHomeDir()
		archiveDir = filepath.Join(homeDir, ".contentpipe", "archives")
	}
	os.MkdirAll(archiveDir, 0755)

	return &Archiver{
		store:      store,
		archiveDir: archiveDir,
		outputDir:  outputDir,
	}
}

// Export bundles one run into outputPath (default
// <archiveDir>/<runID>.tar.gz) and returns the written path.
func (a *Archiver) Export(ctx context.Context, runID, outputPath string) (string, error) {
	record, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}

	if outputPath == "" {
		outputPath = filepath.Join(a.archiveDir, runID+".tar.gz")
	}

	artifactDir := filepath.Join(a.outputDir, runID)
	if err := writeArchive(record, artifactDir, outputPath); err != nil {
		return "", err
	}

	log.Printf("Archive created: %s", outputPath)
	return outputPath, nil
}

// ExportTo streams one run's archive to w without touching the archive
// directory. Used for HTTP downloads.
func (a *Archiver) ExportTo(ctx context.Context, runID string, w io.Writer) error {
	record, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return writeArchiveTo(w, record, filepath.Join(a.outputDir, runID))
}

// Import restores a run record (and its artifacts) from an archive. The
// record is saved back into the store.
func (a *Archiver) Import(ctx context.Context, archivePath string) (*RunRecord, error) {
	record, artifacts, err := readArchive(archivePath)
	if err != nil {
		return nil, err
	}
	return a.restore(ctx, record, artifacts)
}

// ImportFrom restores a run from an archive stream, for HTTP uploads.
func (a *Archiver) ImportFrom(ctx context.Context, r io.Reader) (*RunRecord, error) {
	record, artifacts, err := readArchiveFrom(r)
	if err != nil {
		return nil, err
	}
	return a.restore(ctx, record, artifacts)
}

func (a *Archiver) restore(ctx context.Context, record *RunRecord, artifacts []archiveFile) (*RunRecord, error) {
	for _, art := range artifacts {
		target := filepath.Join(a.outputDir, record.ID, art.name)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
		if err := os.WriteFile(target, art.data, art.mode.Perm()); err != nil {
			return nil, fmt.Errorf("failed to restore artifact %s: %w", art.name, err)
		}
	}

	if err := a.store.SaveRun(ctx, record); err != nil {
		return nil, err
	}

	log.Printf("Imported run %s (%d artifacts)", record.ID, len(artifacts))
	return record, nil
}

func writeArchive(record *RunRecord, artifactDir, outputPath string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer outFile.Close()

	return writeArchiveTo(outFile, record, artifactDir)
}

func writeArchiveTo(w io.Writer, record *RunRecord, artifactDir string) error {
	gw := gzip.NewWriter(w)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	recordJSON, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := writeTarEntry(tw, recordEntry, recordJSON); err != nil {
		return err
	}

	if _, err := os.Stat(artifactDir); err == nil {
		if err := addTree(tw, artifactDir, "artifacts"); err != nil {
			return fmt.Errorf("failed to archive artifacts: %w", err)
		}
	}

	return nil
}

type archiveFile struct {
	name string
	data []byte
	mode os.FileMode
}

func readArchive(archivePath string) (*RunRecord, []archiveFile, error) {
	inFile, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer inFile.Close()

	return readArchiveFrom(inFile)
}

func readArchiveFrom(r io.Reader) (*RunRecord, []archiveFile, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read archive: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)

	var record *RunRecord
	var artifacts []archiveFile

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read archive entry: %w", err)
		}

		name := filepath.Clean(header.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return nil, nil, fmt.Errorf("archive entry escapes target: %s", header.Name)
		}

		switch {
		case name == recordEntry:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read run record: %w", err)
			}
			record = &RunRecord{}
			if err := json.Unmarshal(data, record); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal run record: %w", err)
			}

		case strings.HasPrefix(name, "artifacts/") && header.Typeflag != tar.TypeDir:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
			}
			artifacts = append(artifacts, archiveFile{
				name: strings.TrimPrefix(name, "artifacts/"),
				data: data,
				mode: os.FileMode(header.Mode),
			})
		}
	}

	if record == nil {
		return nil, nil, fmt.Errorf("archive has no %s", recordEntry)
	}

	return record, artifacts, nil
}

// ListArchives returns the available archive files, newest first.
func (a *Archiver) ListArchives() ([]string, error) {
	files, err := os.ReadDir(a.archiveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	type stamped struct {
		name string
		mod  time.Time
	}
	var found []stamped
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".tar.gz") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		found = append(found, stamped{name: file.Name(), mod: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })

	names := make([]string, 0, len(found))
	for _, f := range found {
		names = append(names, f.name)
	}
	return names, nil
}

// DeleteArchive removes one archive file.
func (a *Archiver) DeleteArchive(name string) error {
	if filepath.Base(name) != name {
		return fmt.Errorf("invalid archive name: %s", name)
	}
	return os.Remove(filepath.Join(a.archiveDir, name))
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write archive header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry: %w", err)
	}
	return nil
}

func addTree(tw *tar.Writer, root, prefix string) error {
	return filepath.Walk(root, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		header.Name = filepath.ToSlash(filepath.Join(prefix, relPath))

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !fi.IsDir() {
			data, err := os.Open(file)
			if err != nil {
				return err
			}
			defer data.Close()

			if _, err := io.Copy(tw, data); err != nil {
				return err
			}
		}

		return nil
	})
}
