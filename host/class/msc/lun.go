package msc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/usbmsc/pkg"
)

// lunGeometry holds everything the block I/O engine needs to know about one
// LUN, gathered by probeLUN (spec.md §4.D).
type lunGeometry struct {
	lun               uint8
	removable         bool
	blockSize         uint32
	totalBlocks       uint64
	writeProtected    bool
	writeCacheEnabled bool
}

// probeLUN issues the INQUIRY / TEST UNIT READY / READ CAPACITY / MODE
// SENSE sequence for one LUN and returns its geometry. A failed write-protect
// or caching probe is not fatal: the LUN is still usable, just reported
// conservatively (spec.md §4.D step 4).
func probeLUN(ctx context.Context, t *transactor, lun uint8) (*lunGeometry, error) {
	var inqBuf [inquiryAllocLength]byte
	removable, _, err := t.inquiry(ctx, lun, inqBuf[:])
	if err != nil {
		return nil, fmt.Errorf("inquiry: %w", err)
	}

	if err := t.testUnitReady(ctx, lun); err != nil {
		if !errors.Is(err, ErrCommandFailed) {
			return nil, fmt.Errorf("test unit ready: %w", err)
		}
		// Unit attention or not-ready: clear the condition with REQUEST SENSE
		// and proceed. Some devices report not-ready on the very first
		// command after enumeration.
		var senseBuf [requestSenseAllocLength]byte
		if _, serr := t.requestSense(ctx, lun, senseBuf[:]); serr != nil {
			pkg.LogWarn(pkg.ComponentMSCHost, "request sense after TUR failure",
				"lun", lun, "err", serr)
		}
	}

	lastLBA, blockSize, err := t.readCapacity10(ctx, lun)
	if err != nil {
		return nil, fmt.Errorf("read capacity 10: %w", err)
	}

	var totalBlocks uint64
	if lastLBA == readCapacity10Sentinel {
		lastLBA64, bs, err := t.readCapacity16(ctx, lun)
		if err != nil {
			return nil, fmt.Errorf("read capacity 16: %w", err)
		}
		blockSize = bs
		totalBlocks = lastLBA64 + 1
	} else {
		totalBlocks = uint64(lastLBA) + 1
	}

	if blockSize == 0 {
		return nil, ErrInvalidCapacity
	}

	geom := &lunGeometry{
		lun:         lun,
		removable:   removable,
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}

	var wpBuf [modeSenseAllocPages]byte
	if n, err := t.modeSense6(ctx, lun, modePageAllPages, wpBuf[:]); err != nil {
		pkg.LogWarn(pkg.ComponentMSCHost, "mode sense write-protect probe failed, assuming writable",
			"lun", lun, "err", err)
	} else if n >= 3 {
		geom.writeProtected = wpBuf[2]&0x80 != 0
	}

	// A failed or unparsable caching probe defaults to writeCacheEnabled =
	// true: the conservative assumption is that the device may be caching
	// writes, so the block I/O engine keeps issuing SYNCHRONIZE CACHE rather
	// than silently skipping it.
	geom.writeCacheEnabled = true
	var cacheBuf [modeSenseCachingAllocLen]byte
	if n, err := t.modeSense6(ctx, lun, modePageCaching, cacheBuf[:]); err != nil {
		pkg.LogDebug(pkg.ComponentMSCHost, "mode sense caching probe failed, assuming write cache enabled",
			"lun", lun, "err", err)
	} else if wce, ok := parseCachingWCE(cacheBuf[:n]); ok {
		geom.writeCacheEnabled = wce
	}

	return geom, nil
}

// parseCachingWCE extracts the write cache enable bit from a MODE SENSE (6)
// page 0x08 response. It accounts for the block descriptor the device may
// have prefixed onto the page (header byte 3 gives its length).
func parseCachingWCE(buf []byte) (wce bool, ok bool) {
	if len(buf) < 4 {
		return false, false
	}
	descLen := int(buf[3])
	pageStart := 4 + descLen
	if len(buf) < pageStart+3 {
		return false, false
	}
	return buf[pageStart+2]&0x04 != 0, true
}
