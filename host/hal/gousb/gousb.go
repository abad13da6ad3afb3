// Package gousb adapts a real libusb device, opened through
// [github.com/google/gousb], into a [github.com/ardnew/usbmsc/host/class/msc.Transport].
// It is grounded on the same context/open/auto-detach/claim sequence the
// pack's own gousb consumer uses, generalized to discover a device's bulk
// endpoints instead of hardcoding them.
//
// Unlike [github.com/ardnew/usbmsc/host/hal/linux] this package does not
// implement [github.com/ardnew/usbmsc/host/hal.HostHAL]: gousb already owns
// enumeration and address assignment inside libusb, so there is no root hub
// to drive. It bypasses host.Host/host.Device entirely and hands
// host/class/msc.Bind a Transport built directly from an opened gousb
// device — the option for callers who have libusb instead of a raw
// controller driver.
package gousb

import (
	"context"
	"fmt"

	"github.com/google/gousb"

	"github.com/ardnew/usbmsc/host/hal"
)

// Transport adapts an opened, claimed gousb interface to
// [github.com/ardnew/usbmsc/host/class/msc.Transport].
type Transport struct {
	ctx    *gousb.Context
	device *gousb.Device
	closer func()

	in  *gousb.InEndpoint
	out *gousb.OutEndpoint
}

// Open finds the first device matching vid/pid, claims interface ifaceNum
// (alternate setting altNum), and locates its first bulk IN and bulk OUT
// endpoints. The returned Transport owns the gousb context and device; call
// Close when done.
func Open(vid, pid uint16, ifaceNum, altNum int) (*Transport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("gousb: open device %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("gousb: no device matching %04x:%04x", vid, pid)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("gousb: set auto detach: %w", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("gousb: select config: %w", err)
	}

	iface, err := cfg.Interface(ifaceNum, altNum)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("gousb: claim interface %d: %w", ifaceNum, err)
	}

	inAddr, outAddr, err := findBulkEndpoints(iface)
	if err != nil {
		iface.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	in, err := iface.InEndpoint(inAddr)
	if err != nil {
		iface.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("gousb: open bulk-in endpoint %d: %w", inAddr, err)
	}
	out, err := iface.OutEndpoint(outAddr)
	if err != nil {
		iface.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("gousb: open bulk-out endpoint %d: %w", outAddr, err)
	}

	return &Transport{
		ctx:    ctx,
		device: dev,
		closer: func() { iface.Close(); cfg.Close() },
		in:     in,
		out:    out,
	}, nil
}

// findBulkEndpoints scans the interface's claimed setting for its first
// bulk IN and bulk OUT endpoint numbers.
func findBulkEndpoints(iface *gousb.Interface) (in, out int, err error) {
	in, out = -1, -1
	for _, ep := range iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && in < 0 {
			in = int(ep.Number)
		}
		if ep.Direction == gousb.EndpointDirectionOut && out < 0 {
			out = int(ep.Number)
		}
	}
	if in < 0 || out < 0 {
		return 0, 0, fmt.Errorf("gousb: interface has no bulk in/out endpoint pair")
	}
	return in, out, nil
}

// Close releases the endpoints, interface, device, and context, in that
// order.
func (t *Transport) Close() error {
	t.closer()
	err := t.device.Close()
	t.ctx.Close()
	return err
}

// ControlTransfer performs a control transfer. gousb's Control call has no
// context parameter; ctx.Err() is checked before issuing it so a canceled
// caller does not block on a doomed transfer.
func (t *Transport) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.device.Control(setup.RequestType, setup.Request, setup.Value, setup.Index, data)
}

// BulkTransfer reads from or writes to the endpoint matching the address's
// direction bit. The endpoint argument must equal whichever of in/out was
// discovered by Open; any other address is a configuration error.
func (t *Transport) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch {
	case endpoint&0x80 != 0 && int(endpoint&0x0F) == t.in.Number:
		return t.in.Read(data)
	case endpoint&0x80 == 0 && int(endpoint&0x0F) == t.out.Number:
		return t.out.Write(data)
	default:
		return 0, fmt.Errorf("gousb: endpoint %#x is not this transport's bulk-in/out pair", endpoint)
	}
}

// InEndpointAddress returns the full endpoint address (with direction bit)
// of the discovered bulk IN endpoint, for callers constructing a
// host/class/msc.Bind call.
func (t *Transport) InEndpointAddress() uint8 {
	return uint8(t.in.Number) | 0x80
}

// OutEndpointAddress returns the full endpoint address of the discovered
// bulk OUT endpoint.
func (t *Transport) OutEndpointAddress() uint8 {
	return uint8(t.out.Number)
}

// InMaxPacketSize returns the discovered bulk IN endpoint's wMaxPacketSize.
func (t *Transport) InMaxPacketSize() uint16 {
	return uint16(t.in.Desc.MaxPacketSize)
}

// OutMaxPacketSize returns the discovered bulk OUT endpoint's wMaxPacketSize.
func (t *Transport) OutMaxPacketSize() uint16 {
	return uint16(t.out.Desc.MaxPacketSize)
}
