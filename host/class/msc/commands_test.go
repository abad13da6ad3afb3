package msc

import (
	"context"
	"encoding/binary"
	"testing"
)

func TestCommands_Inquiry(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if data != nil {
			data[1] = 0x80 // removable
		}
		return CSWStatusGood, 0
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	buf := make([]byte, inquiryAllocLength)
	removable, n, err := tr.inquiry(context.Background(), 0, buf)
	if err != nil {
		t.Fatalf("inquiry: %v", err)
	}
	if !removable {
		t.Error("removable = false, want true")
	}
	if n != inquiryAllocLength {
		t.Errorf("n = %d, want %d", n, inquiryAllocLength)
	}
}

func TestCommands_ReadCapacity10(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if data != nil {
			binary.BigEndian.PutUint32(data[0:4], 1999)
			binary.BigEndian.PutUint32(data[4:8], 512)
		}
		return CSWStatusGood, 0
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	lastLBA, blockLen, err := tr.readCapacity10(context.Background(), 0)
	if err != nil {
		t.Fatalf("readCapacity10: %v", err)
	}
	if lastLBA != 1999 || blockLen != 512 {
		t.Errorf("lastLBA=%d blockLen=%d, want 1999/512", lastLBA, blockLen)
	}
}

func TestCommands_ReadCapacity10Sentinel(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if data == nil {
			return CSWStatusGood, 0
		}
		switch len(data) {
		case 8: // READ CAPACITY (10)
			binary.BigEndian.PutUint32(data[0:4], readCapacity10Sentinel)
			binary.BigEndian.PutUint32(data[4:8], 512)
		case 32: // READ CAPACITY (16)
			binary.BigEndian.PutUint64(data[0:8], 5_000_000_000)
			binary.BigEndian.PutUint32(data[8:12], 4096)
		}
		return CSWStatusGood, 0
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	lastLBA, blockLen, err := tr.readCapacity10(context.Background(), 0)
	if err != nil {
		t.Fatalf("readCapacity10: %v", err)
	}
	if lastLBA != readCapacity10Sentinel {
		t.Fatalf("lastLBA = %#x, want sentinel", lastLBA)
	}

	lastLBA64, blockLen16, err := tr.readCapacity16(context.Background(), 0)
	if err != nil {
		t.Fatalf("readCapacity16: %v", err)
	}
	if lastLBA64 != 5_000_000_000 || blockLen16 != 4096 {
		t.Errorf("lastLBA64=%d blockLen16=%d, want 5000000000/4096", lastLBA64, blockLen16)
	}
	_ = blockLen
}

func TestCommands_TestUnitReadyFailureClassification(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		return CSWStatusFailed, 0
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	if err := tr.testUnitReady(context.Background(), 0); err == nil {
		t.Fatal("testUnitReady: want error, got nil")
	}
}

func TestCommands_Read10Write10RoundTrip(t *testing.T) {
	store := make([]byte, 10*512)
	ft := newFakeTransport(0x81, 0x02, func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		if data == nil {
			return CSWStatusGood, 0
		}
		lba := binary.BigEndian.Uint32(cdb[2:6])
		off := int(lba) * 512
		switch cdb[0] {
		case opWrite10:
			copy(store[off:], data)
		case opRead10:
			copy(data, store[off:off+len(data)])
		}
		return CSWStatusGood, 0
	})
	tr := newTransactor(ft, 0, 0x81, 0x02)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := tr.write10(context.Background(), 0, 3, 1, payload); err != nil {
		t.Fatalf("write10: %v", err)
	}

	readBuf := make([]byte, 512)
	actual, err := tr.read10(context.Background(), 0, 3, 1, readBuf)
	if err != nil {
		t.Fatalf("read10: %v", err)
	}
	if actual != 512 {
		t.Errorf("actual = %d, want 512", actual)
	}
	for i := range payload {
		if readBuf[i] != payload[i] {
			t.Fatalf("readBuf[%d] = %#x, want %#x", i, readBuf[i], payload[i])
		}
	}
}
