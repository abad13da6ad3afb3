package msc

import (
	"context"
	"fmt"

	"github.com/ardnew/usbmsc/host"
	"github.com/ardnew/usbmsc/host/hal"
	"github.com/ardnew/usbmsc/pkg"
)

// Transport is the subset of [*github.com/ardnew/usbmsc/host.Device] the
// driver needs: control and bulk transfers. Depending on an interface
// rather than *host.Device keeps the "opaque USB transport" boundary from
// spec.md §1 explicit in code and makes the transactor testable without a
// live transport.
type Transport interface {
	ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error)
	BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error)
}

// transactor executes one CBW/data/CSW round trip at a time (spec.md §4.B).
// It is not safe for concurrent use; the worker (component F) is the only
// caller and serializes all access to the bulk endpoints.
type transactor struct {
	transport Transport

	ifaceNum       uint8
	bulkIn         uint8
	bulkOut        uint8

	sendTag uint32
	recvTag uint32

	cbwBuf [CBWSize]byte
	cswBuf [CSWSize]byte
}

// newTransactor creates a transactor with send/receive tags initialized
// equal, per spec.md §3's invariant. 8 is an arbitrary nonzero starting
// value, matching the cited source.
func newTransactor(t Transport, ifaceNum, bulkIn, bulkOut uint8) *transactor {
	return &transactor{
		transport: t,
		ifaceNum:  ifaceNum,
		bulkIn:    bulkIn,
		bulkOut:   bulkOut,
		sendTag:   8,
		recvTag:   8,
	}
}

// transact issues one CBW, performs the optional data phase, reads the CSW,
// and verifies it (spec.md §4.B algorithm). On success it returns the
// residue reported by the device. Signature mismatch, tag mismatch, and
// phase error all trigger reset recovery before returning.
func (t *transactor) transact(
	ctx context.Context,
	lun uint8,
	cb [16]byte,
	cbLen uint8,
	dir direction,
	dataLen uint32,
	data []byte,
) (residue uint32, err error) {
	tag := t.sendTag
	t.sendTag++
	t.recvTag = tag // expected CSW tag always equals the tag we just sent

	cbw := commandBlockWrapper{
		Tag:                tag,
		DataTransferLength: dataLen,
		Flags:              dir.cbwFlag(),
		LUN:                lun & 0x0F,
		CBLength:           cbLen,
		CB:                 cb,
	}
	cbw.marshalTo(t.cbwBuf[:])

	if _, err := t.transport.BulkTransfer(ctx, t.bulkOut, t.cbwBuf[:CBWSize]); err != nil {
		return 0, fmt.Errorf("msc: send CBW: %w", err)
	}

	if dataLen > 0 {
		ep := t.bulkOut
		if dir == dirIn {
			ep = t.bulkIn
		}
		if _, err := t.transport.BulkTransfer(ctx, ep, data[:dataLen]); err != nil {
			return 0, fmt.Errorf("msc: data phase: %w", err)
		}
	}

	if _, err := t.transport.BulkTransfer(ctx, t.bulkIn, t.cswBuf[:CSWSize]); err != nil {
		return 0, fmt.Errorf("msc: read CSW: %w", err)
	}

	var csw commandStatusWrapper
	if !parseCSW(t.cswBuf[:], &csw) {
		return 0, fmt.Errorf("msc: short CSW")
	}

	if csw.Signature != CSWSignature {
		pkg.LogWarn(pkg.ComponentMSCHost, "CSW signature mismatch, resetting",
			"got", csw.Signature, "want", uint32(CSWSignature))
		if rerr := t.resetRecovery(ctx); rerr != nil {
			return 0, fmt.Errorf("%w: reset recovery failed: %v", ErrBadSignature, rerr)
		}
		return 0, ErrBadSignature
	}

	if csw.Tag != t.recvTag {
		pkg.LogWarn(pkg.ComponentMSCHost, "CSW tag mismatch, resetting",
			"got", csw.Tag, "want", t.recvTag)
		if rerr := t.resetRecovery(ctx); rerr != nil {
			return 0, fmt.Errorf("%w: reset recovery failed: %v", ErrTagMismatch, rerr)
		}
		return 0, ErrTagMismatch
	}
	t.recvTag++

	switch csw.Status {
	case CSWStatusGood:
		return csw.DataResidue, nil
	case CSWStatusFailed:
		return csw.DataResidue, ErrCommandFailed
	case CSWStatusPhaseError:
		pkg.LogWarn(pkg.ComponentMSCHost, "CSW phase error, resetting")
		if rerr := t.resetRecovery(ctx); rerr != nil {
			return 0, fmt.Errorf("%w: reset recovery failed: %v", ErrPhaseError, rerr)
		}
		return 0, ErrPhaseError
	default:
		return 0, fmt.Errorf("msc: unknown CSW status %#x", csw.Status)
	}
}

// resetRecovery performs the USB MSC BOT §5.3.4 sequence: class reset, then
// clear HALT on each bulk endpoint in turn. Any failure propagates; the
// caller treats the device as unusable until the next successful transact.
func (t *transactor) resetRecovery(ctx context.Context) error {
	reset := hal.SetupPacket{
		RequestType: host.RequestTypeOut | host.RequestTypeClass | host.RequestTypeInterface,
		Request:     RequestBulkOnlyReset,
		Value:       0,
		Index:       uint16(t.ifaceNum),
		Length:      0,
	}
	if _, err := t.transport.ControlTransfer(ctx, &reset, nil); err != nil {
		return fmt.Errorf("bulk-only reset: %w", err)
	}

	if err := t.clearHalt(ctx, t.bulkIn); err != nil {
		return fmt.Errorf("clear halt (in): %w", err)
	}
	if err := t.clearHalt(ctx, t.bulkOut); err != nil {
		return fmt.Errorf("clear halt (out): %w", err)
	}
	return nil
}

// clearHalt issues CLEAR_FEATURE(ENDPOINT_HALT) against the given endpoint.
func (t *transactor) clearHalt(ctx context.Context, endpoint uint8) error {
	setup := hal.SetupPacket{
		RequestType: host.RequestTypeOut | host.RequestTypeStandard | host.RequestTypeEndpoint,
		Request:     host.RequestClearFeature,
		Value:       0, // ENDPOINT_HALT
		Index:       uint16(endpoint),
		Length:      0,
	}
	_, err := t.transport.ControlTransfer(ctx, &setup, nil)
	return err
}
