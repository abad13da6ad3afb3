package msc

import "encoding/binary"

// commandBlockWrapper is the host-encoded CBW: the host builds it and the
// device parses it.
type commandBlockWrapper struct {
	Tag                uint32
	DataTransferLength uint32
	Flags              uint8
	LUN                uint8
	CBLength           uint8
	CB                 [16]byte
}

// marshalTo writes the CBW to buf in the wire layout (spec.md §4.A).
// Returns the number of bytes written, or 0 if buf is too small.
func (c *commandBlockWrapper) marshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], CBWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], c.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], c.DataTransferLength)
	buf[12] = c.Flags
	buf[13] = c.LUN & 0x0F
	buf[14] = c.CBLength & 0x1F
	copy(buf[15:31], c.CB[:])

	return CBWSize
}

// commandStatusWrapper is the host-decoded CSW, as returned by the device.
type commandStatusWrapper struct {
	Signature   uint32
	Tag         uint32
	DataResidue uint32
	Status      uint8
}

// parseCSW parses a 13-byte CSW from data. It does not validate the
// signature or tag; callers perform those checks against expected values
// (spec.md §4.B step 4) so that validation failures can trigger reset
// recovery with full context.
func parseCSW(data []byte, out *commandStatusWrapper) bool {
	if len(data) < CSWSize {
		return false
	}
	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return true
}

// direction selects which bulk endpoint carries the data phase.
type direction uint8

const (
	dirNone direction = iota
	dirIn             // device to host
	dirOut            // host to device
)

func (d direction) cbwFlag() uint8 {
	if d == dirIn {
		return CBWFlagDataIn
	}
	return CBWFlagDataOut
}

// --- CDB builders -----------------------------------------------------
//
// Each builder returns a fixed 16-byte array (matching commandBlockWrapper.CB)
// and the CDB's actual length. SCSI multi-byte fields are big-endian.

func buildTestUnitReadyCDB() ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opTestUnitReady
	return cb, 6
}

func buildRequestSenseCDB(allocLength uint8) ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opRequestSense
	cb[4] = allocLength
	return cb, 6
}

func buildInquiryCDB(allocLength uint16) ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opInquiry
	binary.BigEndian.PutUint16(cb[3:5], allocLength)
	return cb, 6
}

func buildReadCapacity10CDB() ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opReadCapacity10
	return cb, 10
}

func buildReadCapacity16CDB(allocLength uint32) ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opServiceActionIn16
	cb[1] = serviceActionReadCapacity16 & 0x1F
	binary.BigEndian.PutUint32(cb[10:14], allocLength)
	return cb, 16
}

func buildModeSense6CDB(page uint8, allocLength uint8) ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opModeSense6
	cb[2] = page & 0x3F
	cb[4] = allocLength
	return cb, 6
}

func buildSynchronizeCache10CDB() ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opSynchronizeCache10
	return cb, 10
}

func buildRead10CDB(lba uint32, blocks uint16) ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opRead10
	binary.BigEndian.PutUint32(cb[2:6], lba)
	binary.BigEndian.PutUint16(cb[7:9], blocks)
	return cb, 10
}

func buildWrite10CDB(lba uint32, blocks uint16) ([16]byte, uint8) {
	cb, n := buildRead10CDB(lba, blocks)
	cb[0] = opWrite10
	return cb, n
}

func buildRead12CDB(lba uint32, blocks uint32) ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opRead12
	binary.BigEndian.PutUint32(cb[2:6], lba)
	binary.BigEndian.PutUint32(cb[6:10], blocks)
	return cb, 12
}

func buildWrite12CDB(lba uint32, blocks uint32) ([16]byte, uint8) {
	cb, n := buildRead12CDB(lba, blocks)
	cb[0] = opWrite12
	return cb, n
}

func buildRead16CDB(lba uint64, blocks uint32) ([16]byte, uint8) {
	var cb [16]byte
	cb[0] = opRead16
	binary.BigEndian.PutUint64(cb[2:10], lba)
	binary.BigEndian.PutUint32(cb[10:14], blocks)
	return cb, 16
}

func buildWrite16CDB(lba uint64, blocks uint32) ([16]byte, uint8) {
	cb, n := buildRead16CDB(lba, blocks)
	cb[0] = opWrite16
	return cb, n
}
