package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

const statsFileName = "STATS"

// Stats is a snapshot of the engine's current on-disk SSTable list.
type Stats struct {
	SSTableCount int
	// SSTablePaths is newest first, the same order Get checks them in.
	SSTablePaths []string
}

// Stats returns a snapshot of the current SSTable list for diagnostics.
func (e *Engine) Stats() Stats {
	e.sstMu.RLock()
	defer e.sstMu.RUnlock()

	paths := make([]string, len(e.sstables))
	for i, entry := range e.sstables {
		paths[i] = entry.reader.Path()
	}
	return Stats{SSTableCount: len(paths), SSTablePaths: paths}
}

// WriteStatsSnapshot renders stats as one SSTable path per line, relative
// to dataDir, and writes it to dataDir/STATS atomically via a temp file
// plus rename, so a concurrent reader of the file never observes a
// half-written snapshot. This is purely a diagnostics aid — the engine
// itself never reads this file back; SSTable discovery on open is an
// explicit caller decision, not something New does automatically.
func WriteStatsSnapshot(dataDir string, stats Stats) error {
	path := filepath.Join(dataDir, statsFileName)
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	for _, sstPath := range stats.SSTablePaths {
		relPath, err := filepath.Rel(dataDir, sstPath)
		if err != nil {
			relPath = sstPath
		}
		if _, err := fmt.Fprintln(file, relPath); err != nil {
			file.Close()
			os.Remove(tmpPath)
			return err
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
