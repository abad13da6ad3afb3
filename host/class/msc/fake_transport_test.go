package msc

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ardnew/usbmsc/host/hal"
)

// scsiResponder answers one SCSI command addressed to a LUN. It is handed
// the CDB and the data-phase buffer (nil for no data phase) and returns the
// CSW status and residue to report.
type scsiResponder func(lun uint8, cdb []byte, data []byte) (status uint8, residue uint32)

// fakeTransport is an in-memory Transport (mirroring
// [github.com/ardnew/usbmsc/host]'s mockHAL pattern) that plays the device
// side of the Bulk-Only Transport protocol well enough to drive the
// transactor and the layers built on it, without any real USB stack.
type fakeTransport struct {
	mu sync.Mutex

	bulkIn  uint8
	bulkOut uint8

	respond scsiResponder

	// pending holds the CBW most recently sent, awaiting its data phase (if
	// any) and CSW read.
	pendingTag     uint32
	pendingLUN     uint8
	pendingCDB     [16]byte
	pendingCDBLen  uint8
	pendingDataLen uint32
	pendingDir     direction
	sawData        bool

	// controlLog records every ControlTransfer for assertions.
	controlLog []hal.SetupPacket

	// corruptSignature, when true, makes the next CSW carry a bad signature.
	corruptSignature bool
	// corruptTag, when true, makes the next CSW carry tag+1.
	corruptTag bool
	// forcePhaseError, when true, makes the next CSW report a phase error.
	forcePhaseError bool

	lastStatus  uint8
	lastResidue uint32

	resetCount          int
	clearHaltEnd        []uint8
	controlTransferErr error
	getMaxLUNErr       error
}

func newFakeTransport(bulkIn, bulkOut uint8, respond scsiResponder) *fakeTransport {
	return &fakeTransport{bulkIn: bulkIn, bulkOut: bulkOut, respond: respond}
}

func (f *fakeTransport) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.controlLog = append(f.controlLog, *setup)

	if f.controlTransferErr != nil {
		return 0, f.controlTransferErr
	}

	switch setup.Request {
	case RequestGetMaxLUN:
		if f.getMaxLUNErr != nil {
			return 0, f.getMaxLUNErr
		}
		if len(data) > 0 {
			data[0] = 0
		}
		return len(data), nil
	case RequestBulkOnlyReset:
		f.resetCount++
		return 0, nil
	case 0x01: // CLEAR_FEATURE
		f.clearHaltEnd = append(f.clearHaltEnd, uint8(setup.Index))
		return 0, nil
	}
	return 0, nil
}

func (f *fakeTransport) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case endpoint == f.bulkOut && len(data) == CBWSize && binary.LittleEndian.Uint32(data[0:4]) == CBWSignature:
		f.pendingTag = binary.LittleEndian.Uint32(data[4:8])
		f.pendingDataLen = binary.LittleEndian.Uint32(data[8:12])
		flags := data[12]
		f.pendingLUN = data[13] & 0x0F
		f.pendingCDBLen = data[14] & 0x1F
		copy(f.pendingCDB[:], data[15:31])
		f.sawData = false
		if flags&CBWFlagDataIn != 0 {
			f.pendingDir = dirIn
		} else if f.pendingDataLen > 0 {
			f.pendingDir = dirOut
		} else {
			f.pendingDir = dirNone
		}
		return len(data), nil

	case endpoint == f.bulkOut: // data-out phase
		f.sawData = true
		status, residue := f.respond(f.pendingLUN, f.pendingCDB[:f.pendingCDBLen], data)
		f.stash(status, residue)
		return len(data), nil

	case endpoint == f.bulkIn && len(data) == CSWSize:
		return f.fillCSW(data), nil

	case endpoint == f.bulkIn: // data-in phase
		f.sawData = true
		status, residue := f.respond(f.pendingLUN, f.pendingCDB[:f.pendingCDBLen], data)
		f.stash(status, residue)
		return len(data) - int(residue), nil
	}
	return 0, nil
}

// stash remembers the responder's verdict for the CSW BulkTransfer reads
// next.
func (f *fakeTransport) stash(status uint8, residue uint32) {
	f.lastStatus = status
	f.lastResidue = residue
}

func (f *fakeTransport) fillCSW(buf []byte) int {
	if !f.sawData && f.pendingDataLen > 0 {
		// No data phase happened yet (zero-length command with a nonzero
		// DataTransferLength would be unusual); invoke the responder once so
		// commands with no data stage still get a verdict.
		status, residue := f.respond(f.pendingLUN, f.pendingCDB[:f.pendingCDBLen], nil)
		f.stash(status, residue)
	} else if f.pendingDataLen == 0 {
		status, residue := f.respond(f.pendingLUN, f.pendingCDB[:f.pendingCDBLen], nil)
		f.stash(status, residue)
	}

	sig := uint32(CSWSignature)
	tag := f.pendingTag
	if f.corruptSignature {
		sig = ^sig
		f.corruptSignature = false
	}
	if f.corruptTag {
		tag++
		f.corruptTag = false
	}
	status := f.lastStatus
	if f.forcePhaseError {
		status = CSWStatusPhaseError
		f.forcePhaseError = false
	}

	binary.LittleEndian.PutUint32(buf[0:4], sig)
	binary.LittleEndian.PutUint32(buf[4:8], tag)
	binary.LittleEndian.PutUint32(buf[8:12], f.lastResidue)
	buf[12] = status
	return CSWSize
}
