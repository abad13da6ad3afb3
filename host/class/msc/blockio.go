package msc

import (
	"context"
	"fmt"
)

// blockIO drives chunked READ/WRITE transfers over a shared transactor
// (spec.md §4.E). It holds no per-LUN state; callers pass a *lunGeometry
// from probeLUN with each call.
type blockIO struct {
	t                *transactor
	maxTransferBytes uint32
}

// newBlockIO creates a blockIO. A maxTransferBytes of 0 selects
// DefaultMaxTransferBytes.
func newBlockIO(t *transactor, maxTransferBytes uint32) *blockIO {
	if maxTransferBytes == 0 {
		maxTransferBytes = DefaultMaxTransferBytes
	}
	return &blockIO{t: t, maxTransferBytes: maxTransferBytes}
}

// validateRange checks offset/blocks against the LUN's capacity.
func validateRange(geom *lunGeometry, offset uint64, blocks uint32) error {
	if blocks == 0 {
		return nil
	}
	end := offset + uint64(blocks)
	if end < offset || offset >= geom.totalBlocks || end > geom.totalBlocks {
		return ErrOutOfRange
	}
	return nil
}

// chunkBlocks returns the largest number of blocks moved per CDB, bounded
// only by maxTransferBytes (spec.md §4.E step 2: chunk = min(remaining,
// max_transfer/block_size)). It does not cap to the 10-byte CDB's 16-bit
// blocks field — cdbWidth picks a 12-byte CDB for chunks that exceed that,
// so a single transport-sized chunk always issues as one CDB.
func (b *blockIO) chunkBlocks(geom *lunGeometry) uint32 {
	chunk := b.maxTransferBytes / geom.blockSize
	if chunk == 0 {
		chunk = 1
	}
	return chunk
}

// cdbWidth picks the CDB size for one chunk: 16-byte whenever any LBA on the
// LUN could exceed 32 bits, 10-byte when the chunk's block count fits a
// 16-bit field, 12-byte otherwise.
func cdbWidth(geom *lunGeometry, blocks uint32) int {
	switch {
	case geom.totalBlocks > maxLBA32:
		return 16
	case blocks <= max10ByteBlocks-1:
		return 10
	default:
		return 12
	}
}

// read transfers blocks contiguous LBAs starting at offset into buf,
// chunking as needed. buf must be exactly blocks*geom.blockSize bytes.
func (b *blockIO) read(ctx context.Context, geom *lunGeometry, offset uint64, blocks uint32, buf []byte) (uint32, error) {
	if err := validateRange(geom, offset, blocks); err != nil {
		return 0, err
	}
	if uint64(len(buf)) != uint64(blocks)*uint64(geom.blockSize) {
		return 0, fmt.Errorf("msc: read buffer size %d does not match %d blocks of %d bytes", len(buf), blocks, geom.blockSize)
	}

	chunk := b.chunkBlocks(geom)
	var done uint32
	for done < blocks {
		n := blocks - done
		if n > chunk {
			n = chunk
		}
		lba := offset + uint64(done)
		bufOff := uint64(done) * uint64(geom.blockSize)
		bufLen := uint64(n) * uint64(geom.blockSize)
		sub := buf[bufOff : bufOff+bufLen]

		actual, err := b.readChunk(ctx, geom, lba, n, sub)
		if err != nil {
			return done, err
		}
		if actual != uint32(len(sub)) {
			return done, ErrResidue
		}
		done += n
	}
	return done, nil
}

func (b *blockIO) readChunk(ctx context.Context, geom *lunGeometry, lba uint64, blocks uint32, buf []byte) (uint32, error) {
	switch cdbWidth(geom, blocks) {
	case 16:
		return b.t.read16(ctx, geom.lun, lba, blocks, buf)
	case 10:
		return b.t.read10(ctx, geom.lun, uint32(lba), uint16(blocks), buf)
	default:
		return b.t.read12(ctx, geom.lun, uint32(lba), blocks, buf)
	}
}

// write transfers buf to blocks contiguous LBAs starting at offset,
// chunking as needed. buf must be exactly blocks*geom.blockSize bytes.
func (b *blockIO) write(ctx context.Context, geom *lunGeometry, offset uint64, blocks uint32, buf []byte) (uint32, error) {
	if err := validateRange(geom, offset, blocks); err != nil {
		return 0, err
	}
	if geom.writeProtected {
		return 0, fmt.Errorf("msc: lun %d is write protected: %w", geom.lun, ErrCommandFailed)
	}
	if uint64(len(buf)) != uint64(blocks)*uint64(geom.blockSize) {
		return 0, fmt.Errorf("msc: write buffer size %d does not match %d blocks of %d bytes", len(buf), blocks, geom.blockSize)
	}

	chunk := b.chunkBlocks(geom)
	var done uint32
	for done < blocks {
		n := blocks - done
		if n > chunk {
			n = chunk
		}
		lba := offset + uint64(done)
		bufOff := uint64(done) * uint64(geom.blockSize)
		bufLen := uint64(n) * uint64(geom.blockSize)
		sub := buf[bufOff : bufOff+bufLen]

		actual, err := b.writeChunk(ctx, geom, lba, n, sub)
		if err != nil {
			return done, err
		}
		if actual != uint32(len(sub)) {
			return done, ErrResidue
		}
		done += n
	}
	return done, nil
}

func (b *blockIO) writeChunk(ctx context.Context, geom *lunGeometry, lba uint64, blocks uint32, buf []byte) (uint32, error) {
	switch cdbWidth(geom, blocks) {
	case 16:
		return b.t.write16(ctx, geom.lun, lba, blocks, buf)
	case 10:
		return b.t.write10(ctx, geom.lun, uint32(lba), uint16(blocks), buf)
	default:
		return b.t.write12(ctx, geom.lun, uint32(lba), blocks, buf)
	}
}

// flush issues SYNCHRONIZE CACHE (10) when the LUN may be caching writes.
// LUNs whose write cache is known to be disabled skip the round trip
// entirely.
func (b *blockIO) flush(ctx context.Context, geom *lunGeometry) error {
	if !geom.writeCacheEnabled {
		return nil
	}
	return b.t.synchronizeCache10(ctx, geom.lun)
}
