package msc

import (
	"context"
	"encoding/binary"
)

// Thin typed wrappers over the transactor (spec.md §4.C). Each composes the
// correct CDB, drives one transact, and decodes the response into the
// caller's buffer or return values.

// inquiry issues INQUIRY and reports whether the RMB (removable media) bit
// is set in the response.
func (t *transactor) inquiry(ctx context.Context, lun uint8, buf []byte) (removable bool, n int, err error) {
	cb, cbLen := buildInquiryCDB(uint16(len(buf)))
	residue, err := t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf)
	if err != nil {
		return false, 0, err
	}
	n = len(buf) - int(residue)
	if n >= 2 {
		removable = buf[1]&0x80 != 0
	}
	return removable, n, nil
}

// testUnitReady issues TEST UNIT READY. A nil error means the LUN is ready;
// errors.Is(err, ErrCommandFailed) means the caller should issue
// requestSense to clear the unit attention / sense condition.
func (t *transactor) testUnitReady(ctx context.Context, lun uint8) error {
	cb, cbLen := buildTestUnitReadyCDB()
	_, err := t.transact(ctx, lun, cb, cbLen, dirNone, 0, nil)
	return err
}

// requestSense issues REQUEST SENSE with an allocation length of len(buf);
// callers pass a requestSenseAllocLength (18-byte) buffer.
func (t *transactor) requestSense(ctx context.Context, lun uint8, buf []byte) (int, error) {
	cb, cbLen := buildRequestSenseCDB(uint8(len(buf)))
	residue, err := t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return len(buf) - int(residue), nil
}

// readCapacity10 issues READ CAPACITY (10). A lastLBA of 0xFFFFFFFF is the
// sentinel the caller uses to fall back to readCapacity16.
func (t *transactor) readCapacity10(ctx context.Context, lun uint8) (lastLBA, blockLen uint32, err error) {
	var buf [8]byte
	cb, cbLen := buildReadCapacity10CDB()
	if _, err = t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf[:]); err != nil {
		return 0, 0, err
	}
	lastLBA = binary.BigEndian.Uint32(buf[0:4])
	blockLen = binary.BigEndian.Uint32(buf[4:8])
	return lastLBA, blockLen, nil
}

// readCapacity16 issues SERVICE ACTION IN (16) / READ CAPACITY (16).
func (t *transactor) readCapacity16(ctx context.Context, lun uint8) (lastLBA uint64, blockLen uint32, err error) {
	var buf [32]byte
	cb, cbLen := buildReadCapacity16CDB(uint32(len(buf)))
	if _, err = t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf[:]); err != nil {
		return 0, 0, err
	}
	lastLBA = binary.BigEndian.Uint64(buf[0:8])
	blockLen = binary.BigEndian.Uint32(buf[8:12])
	return lastLBA, blockLen, nil
}

// modeSense6 issues MODE SENSE (6) for the given page and returns the
// number of bytes actually returned.
func (t *transactor) modeSense6(ctx context.Context, lun, page uint8, buf []byte) (int, error) {
	cb, cbLen := buildModeSense6CDB(page, uint8(len(buf)))
	residue, err := t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return len(buf) - int(residue), nil
}

// synchronizeCache10 issues SYNCHRONIZE CACHE (10) with a zero-length data
// phase; any nonzero residue is translated to ErrResidue.
func (t *transactor) synchronizeCache10(ctx context.Context, lun uint8) error {
	cb, cbLen := buildSynchronizeCache10CDB()
	residue, err := t.transact(ctx, lun, cb, cbLen, dirNone, 0, nil)
	if err != nil {
		return err
	}
	if residue != 0 {
		return ErrResidue
	}
	return nil
}

// read10 issues READ (10) and returns the actual bytes transferred.
func (t *transactor) read10(ctx context.Context, lun uint8, lba uint32, blocks uint16, buf []byte) (actual uint32, err error) {
	cb, cbLen := buildRead10CDB(lba, blocks)
	residue, err := t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return uint32(len(buf)) - residue, nil
}

// write10 issues WRITE (10) and returns the actual bytes transferred.
func (t *transactor) write10(ctx context.Context, lun uint8, lba uint32, blocks uint16, buf []byte) (actual uint32, err error) {
	cb, cbLen := buildWrite10CDB(lba, blocks)
	residue, err := t.transact(ctx, lun, cb, cbLen, dirOut, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return uint32(len(buf)) - residue, nil
}

// read12 issues READ (12) and returns the actual bytes transferred.
func (t *transactor) read12(ctx context.Context, lun uint8, lba, blocks uint32, buf []byte) (actual uint32, err error) {
	cb, cbLen := buildRead12CDB(lba, blocks)
	residue, err := t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return uint32(len(buf)) - residue, nil
}

// write12 issues WRITE (12) and returns the actual bytes transferred.
func (t *transactor) write12(ctx context.Context, lun uint8, lba, blocks uint32, buf []byte) (actual uint32, err error) {
	cb, cbLen := buildWrite12CDB(lba, blocks)
	residue, err := t.transact(ctx, lun, cb, cbLen, dirOut, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return uint32(len(buf)) - residue, nil
}

// read16 issues READ (16) and returns the actual bytes transferred.
func (t *transactor) read16(ctx context.Context, lun uint8, lba uint64, blocks uint32, buf []byte) (actual uint32, err error) {
	cb, cbLen := buildRead16CDB(lba, blocks)
	residue, err := t.transact(ctx, lun, cb, cbLen, dirIn, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return uint32(len(buf)) - residue, nil
}

// write16 issues WRITE (16) and returns the actual bytes transferred.
func (t *transactor) write16(ctx context.Context, lun uint8, lba uint64, blocks uint32, buf []byte) (actual uint32, err error) {
	cb, cbLen := buildWrite16CDB(lba, blocks)
	residue, err := t.transact(ctx, lun, cb, cbLen, dirOut, uint32(len(buf)), buf)
	if err != nil {
		return 0, err
	}
	return uint32(len(buf)) - residue, nil
}
