package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/memtrace/internal/trace"
	"github.com/memtrace/pkg/compression"
	"github.com/memtrace/pkg/utils"
)

// Archiver compresses and uploads finalized run directories so raw trace
// files can be dropped from the capture host after aggregation.
type Archiver struct {
	storage    Storage
	compressor compression.Compressor
	logger     utils.Logger
}

// NewArchiver creates an archiver over the given backend. A nil compressor
// means the default (zstd).
func NewArchiver(s Storage, comp compression.Compressor, logger utils.Logger) *Archiver {
	if comp == nil {
		comp = compression.Default()
	}
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	return &Archiver{storage: s, compressor: comp, logger: logger}
}

// ArchiveRun uploads every trace file and sidecar of a run directory under
// runs/<runID>/, compressed with the archiver's compressor. It returns the
// uploaded object keys.
func (a *Archiver) ArchiveRun(ctx context.Context, runDir string, runID string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, isTrace := trace.ParseThreadID(name); !isTrace && !trace.IsFreqFileName(name) {
			continue
		}

		key, err := a.archiveFile(ctx, filepath.Join(runDir, name), runID)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no trace files to archive in %s", runDir)
	}
	a.logger.Info("archived run: run_id=%s files=%d compression=%s", runID, len(keys), a.compressor.Name())
	return keys, nil
}

// ArchiveReport uploads one exported report file under runs/<runID>/.
func (a *Archiver) ArchiveReport(ctx context.Context, reportPath string, runID string) (string, error) {
	return a.archiveFile(ctx, reportPath, runID)
}

func (a *Archiver) archiveFile(ctx context.Context, localPath string, runID string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	compressed, err := a.compressor.Compress(data)
	if err != nil {
		return "", fmt.Errorf("failed to compress %s: %w", localPath, err)
	}

	key := path.Join("runs", runID, filepath.Base(localPath)+"."+a.compressor.Name())
	if err := a.storage.Upload(ctx, key, bytes.NewReader(compressed)); err != nil {
		return "", err
	}
	return key, nil
}

// FetchArchived downloads and decompresses one archived object.
func (a *Archiver) FetchArchived(ctx context.Context, key string) ([]byte, error) {
	rc, err := a.storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("failed to read archived object: %w", err)
	}
	return compression.AutoDecompress(buf.Bytes())
}
