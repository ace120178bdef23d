package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher downloads and decrypts an attachment.
type Fetcher interface {
	Download(ctx context.Context, ptr *protocol.AttachmentPointer) ([]byte, error)
}

// Indicator shows transient status flags.
type Indicator interface {
	SetFlag(f notify.Flag)
	ClearFlag(f notify.Flag)
}

// Gateway resolves file ids to local paths. Concurrent resolves of the same
// target path share a single download.
type Gateway struct {
	group   singleflight.Group
	timeout time.Duration
	logger  *zap.Logger
}

const defaultDownloadTimeout = 3 * time.Minute

// NewGateway creates a gateway.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{timeout: defaultDownloadTimeout, logger: logger}
}

// Resolve returns the local path for id, downloading the file if it is not
// present yet.
func (g *Gateway) Resolve(ctx context.Context, id string, f Fetcher, ind Indicator) (string, notify.FileStatus) {
	fid, err := Decode(id)
	if err != nil {
		g.logger.Warn("rejecting file id", zap.Error(err))
		return "", notify.FileStatusDownloadFailed
	}
	path := fid.TargetPath
	if exists(path) {
		return path, notify.FileStatusDownloaded
	}

	_, err, shared := g.group.Do(path, func() (any, error) {
		if exists(path) {
			return nil, nil
		}
		ind.SetFlag(notify.FlagFetching)
		defer ind.ClearFlag(notify.FlagFetching)

		// The download is shared, so it outlives the caller that started it.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		data, err := f.Download(dctx, fid.Pointer())
		if err != nil {
			return nil, fmt.Errorf("download: %w", err)
		}
		return nil, writeAtomic(path, data)
	})
	if err != nil {
		g.logger.Warn("attachment download failed", zap.String("path", path), zap.Error(err))
		return "", notify.FileStatusDownloadFailed
	}
	g.logger.Debug("attachment downloaded", zap.String("path", path), zap.Bool("shared", shared))
	return path, notify.FileStatusDownloaded
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place, so path never holds a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, path)
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return errors.Join(fmt.Errorf("write %s", path), werr)
	}
	return nil
}
