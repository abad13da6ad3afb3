package msc

// Op identifies the kind of work a Transaction requests.
type Op int

// Transaction operations.
const (
	OpRead Op = iota
	OpWrite
	OpFlush
)

// String returns a human-readable operation name.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// Transaction is one block-level request handed to the device's worker
// (spec.md §6). Offset and Blocks are in units of the LUN's block size;
// Buffer must be sized accordingly for OpRead and OpWrite. Complete, if
// non-nil, is invoked exactly once with the outcome.
type Transaction struct {
	Op       Op
	LUN      uint8
	Offset   uint64
	Blocks   uint32
	Buffer   []byte
	Complete func(Result)
}

// LUNInfo describes one LUN's geometry, as reported to a Registrar.
type LUNInfo struct {
	LUN            uint8
	Removable      bool
	BlockSize      uint32
	TotalBlocks    uint64
	WriteProtected bool
}

// Registrar receives LUN lifecycle notifications so a host block layer can
// expose each LUN as a block device (spec.md §6). Implementations must
// tolerate RegisterLUN being called again for a LUN whose media changed.
type Registrar interface {
	RegisterLUN(info LUNInfo) error
	UnregisterLUN(lun uint8) error
}

// info converts a probed lunGeometry to the public LUNInfo shape.
func (g *lunGeometry) info() LUNInfo {
	return LUNInfo{
		LUN:            g.lun,
		Removable:      g.removable,
		BlockSize:      g.blockSize,
		TotalBlocks:    g.totalBlocks,
		WriteProtected: g.writeProtected,
	}
}
