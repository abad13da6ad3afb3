package msc

import (
	"context"
	"encoding/binary"
	"testing"
)

func storageResponder(store []byte, blockSize uint32) scsiResponder {
	return func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if data == nil {
			return CSWStatusGood, 0
		}
		var lba uint64
		switch cdb[0] {
		case opRead10, opWrite10:
			lba = uint64(binary.BigEndian.Uint32(cdb[2:6]))
		case opRead12, opWrite12:
			lba = uint64(binary.BigEndian.Uint32(cdb[2:6]))
		case opRead16, opWrite16:
			lba = binary.BigEndian.Uint64(cdb[2:10])
		}
		off := lba * uint64(blockSize)
		switch cdb[0] {
		case opWrite10, opWrite12, opWrite16:
			copy(store[off:], data)
		case opRead10, opRead12, opRead16:
			copy(data, store[off:off+uint64(len(data))])
		}
		return CSWStatusGood, 0
	}
}

func TestBlockIO_ReadWriteRoundTrip(t *testing.T) {
	const blockSize = 512
	store := make([]byte, 64*blockSize)
	ft := newFakeTransport(0x81, 0x02, storageResponder(store, blockSize))
	tr := newTransactor(ft, 0, 0x81, 0x02)
	bio := newBlockIO(tr, 4096) // 8 blocks per chunk

	geom := &lunGeometry{lun: 0, blockSize: blockSize, totalBlocks: 64}

	payload := make([]byte, 20*blockSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := bio.write(context.Background(), geom, 5, 20, payload)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 20 {
		t.Errorf("n = %d, want 20", n)
	}

	readBuf := make([]byte, 20*blockSize)
	n, err = bio.read(context.Background(), geom, 5, 20, readBuf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 20 {
		t.Errorf("n = %d, want 20", n)
	}
	for i := range payload {
		if readBuf[i] != payload[i] {
			t.Fatalf("readBuf[%d] = %#x, want %#x", i, readBuf[i], payload[i])
		}
	}
}

// TestBlockIO_ReadWriteRoundTrip12ByteCDB exercises the 12-byte CDB branch
// through the real chunking path (chunkBlocks no longer caps to the 10-byte
// CDB's 16-bit blocks field, so a transport whose max-transfer/block-size
// exceeds 65535 issues a single 12-byte CDB per chunk; spec.md §4.E step 3).
func TestBlockIO_ReadWriteRoundTrip12ByteCDB(t *testing.T) {
	const blockSize = 1
	const chunkBlockCount = max10ByteBlocks + 1000 // > 65535, forces 12-byte CDB
	store := make([]byte, 2*chunkBlockCount*blockSize)
	ft := newFakeTransport(0x81, 0x02, storageResponder(store, blockSize))
	tr := newTransactor(ft, 0, 0x81, 0x02)
	bio := newBlockIO(tr, chunkBlockCount*blockSize)

	geom := &lunGeometry{lun: 0, blockSize: blockSize, totalBlocks: 2 * chunkBlockCount}

	if got := bio.chunkBlocks(geom); got != chunkBlockCount {
		t.Fatalf("chunkBlocks = %d, want %d", got, chunkBlockCount)
	}
	if w := cdbWidth(geom, bio.chunkBlocks(geom)); w != 12 {
		t.Fatalf("cdbWidth for one full chunk = %d, want 12", w)
	}

	payload := make([]byte, chunkBlockCount*blockSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := bio.write(context.Background(), geom, 0, chunkBlockCount, payload)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != chunkBlockCount {
		t.Errorf("n = %d, want %d", n, chunkBlockCount)
	}

	readBuf := make([]byte, chunkBlockCount*blockSize)
	n, err = bio.read(context.Background(), geom, 0, chunkBlockCount, readBuf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != chunkBlockCount {
		t.Errorf("n = %d, want %d", n, chunkBlockCount)
	}
	for i := range payload {
		if readBuf[i] != payload[i] {
			t.Fatalf("readBuf[%d] = %#x, want %#x", i, readBuf[i], payload[i])
		}
	}
}

func TestBlockIO_OutOfRange(t *testing.T) {
	bio := newBlockIO(newTransactor(newFakeTransport(0x81, 0x02, okResponder), 0, 0x81, 0x02), 0)
	geom := &lunGeometry{lun: 0, blockSize: 512, totalBlocks: 100}

	buf := make([]byte, 512)
	if _, err := bio.read(context.Background(), geom, 99, 2, buf); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if _, err := bio.read(context.Background(), geom, 100, 1, buf); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestBlockIO_WriteProtected(t *testing.T) {
	bio := newBlockIO(newTransactor(newFakeTransport(0x81, 0x02, okResponder), 0, 0x81, 0x02), 0)
	geom := &lunGeometry{lun: 0, blockSize: 512, totalBlocks: 100, writeProtected: true}

	buf := make([]byte, 512)
	if _, err := bio.write(context.Background(), geom, 0, 1, buf); err == nil {
		t.Fatal("write: want error on write-protected LUN, got nil")
	}
}

func TestBlockIO_CDBWidthSelection(t *testing.T) {
	small := &lunGeometry{totalBlocks: 100}
	if w := cdbWidth(small, 10); w != 10 {
		t.Errorf("cdbWidth(small,10) = %d, want 10", w)
	}
	if w := cdbWidth(small, max10ByteBlocks); w != 12 {
		t.Errorf("cdbWidth(small,max10ByteBlocks) = %d, want 12", w)
	}

	huge := &lunGeometry{totalBlocks: maxLBA32 + 1}
	if w := cdbWidth(huge, 10); w != 16 {
		t.Errorf("cdbWidth(huge,10) = %d, want 16", w)
	}
}

func TestBlockIO_Flush(t *testing.T) {
	var syncCalls int
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if cdb[0] == opSynchronizeCache10 {
			syncCalls++
		}
		return CSWStatusGood, 0
	})
	bio := newBlockIO(newTransactor(ft, 0, 0x81, 0x02), 0)

	cached := &lunGeometry{lun: 0, writeCacheEnabled: true}
	if err := bio.flush(context.Background(), cached); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if syncCalls != 1 {
		t.Errorf("syncCalls = %d, want 1", syncCalls)
	}

	uncached := &lunGeometry{lun: 0, writeCacheEnabled: false}
	if err := bio.flush(context.Background(), uncached); err != nil {
		t.Fatalf("flush (uncached): %v", err)
	}
	if syncCalls != 1 {
		t.Errorf("syncCalls after uncached flush = %d, want 1 (no-op)", syncCalls)
	}
}
