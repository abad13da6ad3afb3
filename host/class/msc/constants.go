package msc

// USB Mass Storage Class / Subclass / Protocol codes, used to match a
// candidate interface during Bind.
const (
	ClassMSC         = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI Transparent Command Set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BOT)
)

// Bulk-Only Transport class-specific control requests (USB MSC BOT spec §3).
const (
	RequestGetMaxLUN      = 0xFE // Get maximum Logical Unit Number
	RequestBulkOnlyReset  = 0xFF // Bulk-Only Mass Storage Reset
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC"
	CBWSize        = 31
	CBWFlagDataOut = 0x00 // host to device
	CBWFlagDataIn  = 0x80 // device to host
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS"
	CSWSize             = 13
	CSWStatusGood       = 0x00
	CSWStatusFailed     = 0x01
	CSWStatusPhaseError = 0x02
)

// SCSI operation codes used by this driver.
const (
	opTestUnitReady      = 0x00
	opRequestSense       = 0x03
	opInquiry            = 0x12
	opModeSense6         = 0x1A
	opReadCapacity10     = 0x25
	opRead10             = 0x28
	opWrite10            = 0x2A
	opSynchronizeCache10 = 0x35
	opRead12             = 0xA8
	opWrite12            = 0xAA
	opRead16             = 0x88
	opWrite16            = 0x8A
	opServiceActionIn16  = 0x9E
)

// Service action for SERVICE ACTION IN (16), used to request READ CAPACITY (16).
const serviceActionReadCapacity16 = 0x10

// Mode page codes used when probing write-protect and cache state.
const (
	modePageAllPages  = 0x3F
	modePageCaching   = 0x08
)

// Default allocation lengths for fixed-format responses.
const (
	inquiryAllocLength      = 36
	requestSenseAllocLength = 18
	readCapacity10AllocLen  = 8
	readCapacity16AllocLen  = 32
	modeSenseAllocPages     = 4  // header only, for the write-protect probe
	modeSenseCachingAllocLen = 20 // caching page probe, per spec.md §4.D step 4
)

// readCapacity10Sentinel is the lastLBA value READ CAPACITY (10) returns
// when the LUN's capacity does not fit in 32 bits; it signals the caller to
// fall back to READ CAPACITY (16).
const readCapacity10Sentinel = 0xFFFFFFFF

// Chunk-selection thresholds (spec.md §4.E step 3).
const (
	maxLBA32          = 1 << 32       // total_blocks boundary for 16-byte CDBs
	max10ByteBlocks   = 1 << 16       // chunk-size boundary between 10- and 12-byte CDBs
)

// DefaultMaxTransferBytes is used when Bind is given no WithMaxTransferBytes
// option, or a zero value for it.
const DefaultMaxTransferBytes = 65536

// bufCBWSize, bufReadSize, and bufCSWSize are the request-buffer sizes from
// spec.md §3. No code path reads them: the transactor sizes its CBW and CSW
// arrays from CBWSize and CSWSize directly, and no general read buffer is
// allocated.
const (
	bufCBWSize  = CBWSize
	bufReadSize = 4096 // one page, sized generously for INQUIRY/MODE SENSE/sense data
	bufCSWSize  = CSWSize
)

// lunPollIntervalSeconds is how often the worker sweeps LUNs for readiness changes
// while idle (spec.md §4.F).
const lunPollIntervalSeconds = 1
