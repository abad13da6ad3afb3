// Package msc implements the host side of the USB Mass Storage Class (MSC)
// Bulk-Only Transport (BOT) with a SCSI transparent command set.
//
// It drives a [github.com/ardnew/usbmsc/host.Device] (or any [Transport])
// through enumeration, LUN discovery, and block I/O, exposing each logical
// unit as a simple block device to a host block layer supplied by the
// caller.
//
// # Architecture
//
//  1. Wire codec (wire.go, constants.go) - CBW/CSW framing and CDB encoding
//  2. BOT transactor (transact.go) - one CBW/data/CSW round trip, with reset
//     recovery on signature/tag/phase errors
//  3. SCSI command layer (commands.go) - typed wrappers over the transactor
//  4. LUN probe (lun.go) - capacity, block size, and flag discovery
//  5. Block I/O engine (blockio.go) - chunking and CDB width selection
//  6. Worker (worker.go, queue.go) - the single goroutine that owns the bulk
//     endpoints and serializes all command traffic
//  7. Driver lifecycle (driver.go) - Bind/Unbind, matching a USB MSC/SCSI/BOT
//     interface
//
// # Usage
//
//	dev, err := msc.Bind(ctx, transport, ifaceNum, bulkIn, bulkOut, msc.WithRegistrar(myRegistrar))
//	if err != nil { ... }
//	defer dev.Unbind(ctx)
//
//	done := make(chan msc.Result, 1)
//	dev.Enqueue(msc.Transaction{
//	    Op:     msc.OpRead,
//	    LUN:    0,
//	    Offset: 0,
//	    Blocks: 8,
//	    Buffer: buf,
//	    Complete: func(r msc.Result) { done <- r },
//	})
//	<-done
//
// # References
//
//   - USB Mass Storage Class - Bulk-Only Transport, Revision 1.0
//   - SCSI Primary Commands (SPC-4), SCSI Block Commands (SBC-3)
package msc
