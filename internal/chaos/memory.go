package chaos

import (
	"context"
	"runtime"
	"runtime/debug"
)

const blockSize = 1 << 20

// MemoryStressExecutor holds `mb` one-megabyte blocks for the run.
type MemoryStressExecutor struct {
	maxMB int
	alloc func(size int) ([]byte, error)
}

func NewMemoryStressExecutor(ceilings ResourceCeilings) *MemoryStressExecutor {
	return &MemoryStressExecutor{maxMB: ceilings.MaxMemoryMB, alloc: touchAlloc}
}

// touchAlloc allocates a block and writes one byte per page so it is resident.
func touchAlloc(size int) ([]byte, error) {
	block := make([]byte, size)
	for i := 0; i < len(block); i += 4096 {
		block[i] = 1
	}
	return block, nil
}

func (e *MemoryStressExecutor) Kind() FaultKind { return KindMemoryStress }

func (e *MemoryStressExecutor) Acquire(ctx context.Context, spec FaultSpec) (Handle, error) {
	mb := spec.IntParam("mb")
	if mb < 1 {
		return nil, acquisitionFailed("mb must be at least 1")
	}
	if e.maxMB > 0 && mb > e.maxMB {
		return nil, acquisitionFailed("%d MB exceeds ceiling of %d MB", mb, e.maxMB)
	}

	blocks := make([][]byte, 0, mb)
	free := func() {
		for i := range blocks {
			blocks[i] = nil
		}
		blocks = nil
		runtime.GC()
		debug.FreeOSMemory()
	}

	for i := 0; i < mb; i++ {
		if err := ctx.Err(); err != nil {
			free()
			return nil, acquisitionFailed("allocation interrupted after %d MB: %v", i, err)
		}
		block, err := e.alloc(blockSize)
		if err != nil {
			free()
			return nil, acquisitionFailed("allocating block %d of %d: %v", i+1, mb, err)
		}
		blocks = append(blocks, block)
	}

	return newReleaser(KindMemoryStress, func() error {
		free()
		return nil
	}), nil
}
