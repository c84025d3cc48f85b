package chaos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsageFunc reports free bytes on the filesystem holding path.
type DiskUsageFunc func(ctx context.Context, path string) (free uint64, err error)

func gopsutilFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// DiskFillExecutor writes a `size_mb` file and deletes it on release.
type DiskFillExecutor struct {
	dir         string
	maxMB       int
	minFreeMB   int
	freeSpaceOf DiskUsageFunc
}

func NewDiskFillExecutor(dir string, ceilings ResourceCeilings) *DiskFillExecutor {
	if dir == "" {
		dir = os.TempDir()
	}
	return &DiskFillExecutor{
		dir:         dir,
		maxMB:       ceilings.MaxDiskMB,
		minFreeMB:   ceilings.MinFreeDiskMB,
		freeSpaceOf: gopsutilFree,
	}
}

func (e *DiskFillExecutor) Kind() FaultKind { return KindDiskFill }

func (e *DiskFillExecutor) Acquire(ctx context.Context, spec FaultSpec) (Handle, error) {
	sizeMB := spec.IntParam("size_mb")
	if sizeMB < 1 {
		return nil, acquisitionFailed("size_mb must be at least 1")
	}
	if e.maxMB > 0 && sizeMB > e.maxMB {
		return nil, acquisitionFailed("%d MB exceeds ceiling of %d MB", sizeMB, e.maxMB)
	}

	path := spec.StringParam("path")
	dir := e.dir
	if path != "" {
		dir = filepath.Dir(path)
	}

	free, err := e.freeSpaceOf(ctx, dir)
	if err != nil {
		return nil, acquisitionFailed("checking free space in %s: %v", dir, err)
	}
	size := uint64(sizeMB) * blockSize
	reserve := uint64(e.minFreeMB) * blockSize
	if free < size || free-size < reserve {
		return nil, acquisitionFailed("insufficient disk headroom in %s: %d MB free, need %d MB plus %d MB reserve",
			dir, free/blockSize, sizeMB, e.minFreeMB)
	}

	var f *os.File
	if path != "" {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	} else {
		f, err = os.CreateTemp(dir, "chaos-diskfill-*.bin")
	}
	if err != nil {
		return nil, acquisitionFailed("creating fill file: %v", err)
	}
	name := f.Name()

	if err := writeFill(ctx, f, sizeMB); err != nil {
		f.Close()
		os.Remove(name)
		return nil, acquisitionFailed("writing %s: %v", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return nil, acquisitionFailed("closing %s: %v", name, err)
	}

	return &diskFillHandle{
		Path: name,
		releaser: newReleaser(KindDiskFill, func() error {
			if err := os.Remove(name); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("fill file %s already removed", name)
				}
				return fmt.Errorf("removing fill file: %w", err)
			}
			return nil
		}),
	}, nil
}

func writeFill(ctx context.Context, f *os.File, sizeMB int) error {
	chunk := make([]byte, blockSize)
	for i := range chunk {
		chunk[i] = byte(i)
	}
	for i := 0; i < sizeMB; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := f.Write(chunk); err != nil {
			return err
		}
	}
	return f.Sync()
}

type diskFillHandle struct {
	*releaser
	Path string
}
