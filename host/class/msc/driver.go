package msc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/usbmsc/host"
	"github.com/ardnew/usbmsc/host/hal"
	"github.com/ardnew/usbmsc/pkg"
)

// options configures Bind. Use the With* functions to set them.
type options struct {
	registrar        Registrar
	maxTransferBytes uint32
	bulkInMaxPacket  uint16
	bulkOutMaxPacket uint16
}

// Option configures a Device at Bind time.
type Option func(*options)

// WithRegistrar supplies the Registrar that learns about each probed LUN.
// Without one, Bind still probes every LUN and makes it schedulable; the
// caller just has no block-device side effect to observe.
func WithRegistrar(r Registrar) Option {
	return func(o *options) { o.registrar = r }
}

// WithMaxTransferBytes overrides DefaultMaxTransferBytes for chunking reads
// and writes.
func WithMaxTransferBytes(n uint32) Option {
	return func(o *options) { o.maxTransferBytes = n }
}

// WithMaxPacketSizes records the bulk-in/bulk-out endpoints' wMaxPacketSize,
// as discovered by the caller during enumeration (spec.md §3 Device
// attributes). Neither command path consults these; they are preserved for
// future short-packet handling per spec.md §9's open question.
func WithMaxPacketSizes(bulkIn, bulkOut uint16) Option {
	return func(o *options) {
		o.bulkInMaxPacket = bulkIn
		o.bulkOutMaxPacket = bulkOut
	}
}

// Device is a bound USB Mass Storage Class Bulk-Only Transport device
// (spec.md §4.G). Create one with Bind and release it with Unbind.
type Device struct {
	ifaceNum uint8
	maxLUN   uint8

	bulkInMaxPacket  uint16
	bulkOutMaxPacket uint16

	t       *transactor
	blockIO *blockIO
	worker  *worker

	cancel context.CancelFunc
}

// Bind claims interface ifaceNum (already matched by the caller against
// ClassMSC/SubclassSCSI/ProtocolBulkOnly) over the given bulk endpoints,
// reads GET_MAX_LUN, probes every LUN, and starts the worker goroutine.
// The returned Device is ready to accept Transactions via Enqueue.
func Bind(ctx context.Context, transport Transport, ifaceNum, bulkIn, bulkOut uint8, opts ...Option) (*Device, error) {
	if bulkIn == bulkOut {
		return nil, fmt.Errorf("%w: bulk-in and bulk-out endpoints are identical (%#x)", ErrUnsupportedLayout, bulkIn)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	t := newTransactor(transport, ifaceNum, bulkIn, bulkOut)
	bio := newBlockIO(t, o.maxTransferBytes)
	w := newWorker(t, bio, o.registrar)

	maxLUN, err := getMaxLUN(ctx, transport, ifaceNum)
	if err != nil {
		if !errors.Is(err, pkg.ErrStall) {
			return nil, fmt.Errorf("get max lun: %w", err)
		}
		pkg.LogWarn(pkg.ComponentMSCHost, "GET_MAX_LUN stalled, clearing ep0 and assuming a single LUN", "err", err)
		if cerr := clearEndpointZeroHalt(ctx, transport); cerr != nil {
			return nil, fmt.Errorf("clear ep0 halt after GET_MAX_LUN stall: %w", cerr)
		}
		maxLUN = 0
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &Device{
		ifaceNum:         ifaceNum,
		maxLUN:           maxLUN,
		bulkInMaxPacket:  o.bulkInMaxPacket,
		bulkOutMaxPacket: o.bulkOutMaxPacket,
		t:                t,
		blockIO:          bio,
		worker:           w,
		cancel:           cancel,
	}

	for lun := uint8(0); lun <= maxLUN; lun++ {
		// Always give the worker a slot for this LUN, even if the initial
		// probe fails: the idle sweep (spec.md §4.F) will retry readiness
		// and add it later without requiring a rebind.
		w.initLUN(lun)

		geom, err := probeLUN(dctx, t, lun)
		if err != nil {
			pkg.LogWarn(pkg.ComponentMSCHost, "probe failed, skipping lun", "lun", lun, "err", err)
			continue
		}

		added := false
		if o.registrar != nil {
			if err := o.registrar.RegisterLUN(geom.info()); err != nil {
				pkg.LogWarn(pkg.ComponentMSCHost, "registrar rejected lun", "lun", lun, "err", err)
			} else {
				added = true
			}
		} else {
			added = true
		}
		w.registerLUN(geom, added)
	}

	go w.run(dctx)
	return d, nil
}

// getMaxLUN issues the class-specific GET_MAX_LUN control request. Some
// devices stall this request despite supporting only LUN 0; Bind treats a
// stall as "assume a single LUN" after clearing the halt it causes, and
// propagates any other error as a bind failure.
func getMaxLUN(ctx context.Context, transport Transport, ifaceNum uint8) (uint8, error) {
	setup := hal.SetupPacket{
		RequestType: host.RequestTypeIn | host.RequestTypeClass | host.RequestTypeInterface,
		Request:     RequestGetMaxLUN,
		Value:       0,
		Index:       uint16(ifaceNum),
		Length:      1,
	}
	var buf [1]byte
	if _, err := transport.ControlTransfer(ctx, &setup, buf[:]); err != nil {
		return 0, err
	}
	return buf[0] & 0x0F, nil
}

// clearEndpointZeroHalt issues CLEAR_FEATURE(ENDPOINT_HALT) against the
// default control endpoint. Some devices stall GET_MAX_LUN even though they
// only expose LUN 0; the stall itself halts endpoint 0 and must be cleared
// before any further control transfer will succeed (spec.md §4.G step 2).
func clearEndpointZeroHalt(ctx context.Context, transport Transport) error {
	setup := hal.SetupPacket{
		RequestType: host.RequestTypeOut | host.RequestTypeStandard | host.RequestTypeEndpoint,
		Request:     host.RequestClearFeature,
		Value:       0, // ENDPOINT_HALT
		Index:       0, // endpoint 0
		Length:      0,
	}
	_, err := transport.ControlTransfer(ctx, &setup, nil)
	return err
}

// MaxLUN returns the highest LUN index GET_MAX_LUN reported.
func (d *Device) MaxLUN() uint8 { return d.maxLUN }

// BulkInMaxPacketSize returns the bulk-in endpoint's wMaxPacketSize recorded
// at Bind time via WithMaxPacketSizes, or 0 if the caller did not supply one.
func (d *Device) BulkInMaxPacketSize() uint16 { return d.bulkInMaxPacket }

// BulkOutMaxPacketSize returns the bulk-out endpoint's wMaxPacketSize
// recorded at Bind time via WithMaxPacketSizes, or 0 if the caller did not
// supply one.
func (d *Device) BulkOutMaxPacketSize() uint16 { return d.bulkOutMaxPacket }

// Enqueue schedules a Transaction for the worker goroutine. It returns
// ErrNotPresent if the device has already been unbound.
func (d *Device) Enqueue(tx Transaction) error {
	return d.worker.queue.push(tx)
}

// Unbind stops the worker, draining any queued Transactions with an
// IO_NOT_PRESENT result, waits for it to exit, then unregisters every LUN
// still marked added (spec.md §4.G unbind). The caller is responsible for
// unregistering the root device itself, same as it registered it.
func (d *Device) Unbind(ctx context.Context) error {
	d.cancel()
	select {
	case <-d.worker.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.worker.unregisterAll()
	return nil
}
