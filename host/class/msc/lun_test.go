package msc

import (
	"context"
	"testing"
)

// basicLUNResponder answers INQUIRY, TEST UNIT READY, READ CAPACITY (10),
// and MODE SENSE (6) pages 0x3F/0x08 for a single fixed, writable,
// non-removable LUN with a 512-byte block size and 2000 blocks.
func basicLUNResponder(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
	switch cdb[0] {
	case opInquiry:
		if data != nil {
			data[1] = 0x00 // not removable
		}
		return CSWStatusGood, 0
	case opTestUnitReady:
		return CSWStatusGood, 0
	case opReadCapacity10:
		if data != nil {
			// last LBA = 1999, block size = 512
			data[0], data[1], data[2], data[3] = 0, 0, 0x07, 0xCF
			data[4], data[5], data[6], data[7] = 0, 0, 0x02, 0x00
		}
		return CSWStatusGood, 0
	case opModeSense6:
		if data != nil {
			page := cdb[2] & 0x3F
			if page == modePageCaching {
				if len(data) > 6 {
					data[6] = 0x04 // WCE set
				}
				data[0] = byte(len(data) - 1)
			} else {
				// header only: not write protected
				data[2] = 0x00
			}
		}
		return CSWStatusGood, 0
	}
	return CSWStatusGood, 0
}

func TestProbeLUN_Basic(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, basicLUNResponder)
	tr := newTransactor(ft, 0, 0x81, 0x02)

	geom, err := probeLUN(context.Background(), tr, 0)
	if err != nil {
		t.Fatalf("probeLUN: %v", err)
	}
	if geom.removable {
		t.Error("removable = true, want false")
	}
	if geom.blockSize != 512 {
		t.Errorf("blockSize = %d, want 512", geom.blockSize)
	}
	if geom.totalBlocks != 2000 {
		t.Errorf("totalBlocks = %d, want 2000", geom.totalBlocks)
	}
	if geom.writeProtected {
		t.Error("writeProtected = true, want false")
	}
	if !geom.writeCacheEnabled {
		t.Error("writeCacheEnabled = false, want true")
	}
}

func TestProbeLUN_WriteProtected(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if cdb[0] == opModeSense6 && (cdb[2]&0x3F) != modePageCaching && data != nil {
			data[2] = 0x80
			return CSWStatusGood, 0
		}
		return basicLUNResponder(lun, cdb, data)
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	geom, err := probeLUN(context.Background(), tr, 0)
	if err != nil {
		t.Fatalf("probeLUN: %v", err)
	}
	if !geom.writeProtected {
		t.Error("writeProtected = false, want true")
	}
}

func TestProbeLUN_NotReadyThenClears(t *testing.T) {
	turCalls := 0
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if cdb[0] == opTestUnitReady {
			turCalls++
			return CSWStatusFailed, 0
		}
		return basicLUNResponder(lun, cdb, data)
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	geom, err := probeLUN(context.Background(), tr, 0)
	if err != nil {
		t.Fatalf("probeLUN: %v", err)
	}
	if turCalls != 1 {
		t.Errorf("turCalls = %d, want 1", turCalls)
	}
	if geom.totalBlocks != 2000 {
		t.Errorf("totalBlocks = %d, want 2000 (probe continues after TUR failure)", geom.totalBlocks)
	}
}

func TestProbeLUN_ZeroBlockSizeIsInvalid(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		switch cdb[0] {
		case opInquiry, opTestUnitReady:
			return CSWStatusGood, 0
		case opReadCapacity10:
			return CSWStatusGood, 0 // all-zero buffer: block size 0
		}
		return CSWStatusGood, 0
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	if _, err := probeLUN(context.Background(), tr, 0); err != ErrInvalidCapacity {
		t.Fatalf("err = %v, want ErrInvalidCapacity", err)
	}
}
