package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/usbmsc/host"
	"github.com/ardnew/usbmsc/host/class/msc"
	gousbhal "github.com/ardnew/usbmsc/host/hal/gousb"
	linuxhal "github.com/ardnew/usbmsc/host/hal/linux"
)

// boundTransport packages everything Bind needs from whichever backend the
// config selected, plus a teardown func that releases it in the right
// order.
type boundTransport struct {
	transport         msc.Transport
	ifaceNum          uint8
	bulkIn, bulkOut   uint8
	bulkInMaxPacket   uint16
	bulkOutMaxPacket  uint16
	vendor, product   uint16
	close             func() error
}

// openTransport dispatches on cfg.HAL. Both branches end in the same
// shape so Bind doesn't need to know which one ran.
func openTransport(ctx context.Context, cfg Config) (*boundTransport, error) {
	switch cfg.HAL {
	case "gousb":
		return openGousbTransport(cfg)
	case "linux", "":
		return openLinuxTransport(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown hal backend %q (want \"linux\" or \"gousb\")", cfg.HAL)
	}
}

func openGousbTransport(cfg Config) (*boundTransport, error) {
	t, err := gousbhal.Open(cfg.VendorID, cfg.ProductID, cfg.InterfaceNumber, cfg.AltSetting)
	if err != nil {
		return nil, fmt.Errorf("gousb: %w", err)
	}
	return &boundTransport{
		transport:        t,
		ifaceNum:         uint8(cfg.InterfaceNumber),
		bulkIn:           t.InEndpointAddress(),
		bulkOut:          t.OutEndpointAddress(),
		bulkInMaxPacket:  t.InMaxPacketSize(),
		bulkOutMaxPacket: t.OutMaxPacketSize(),
		vendor:           cfg.VendorID,
		product:          cfg.ProductID,
		close:            t.Close,
	}, nil
}

func openLinuxTransport(ctx context.Context, cfg Config) (*boundTransport, error) {
	h := host.New(linuxhal.NewHostHAL())
	if err := h.Start(ctx); err != nil {
		return nil, fmt.Errorf("start host: %w", err)
	}

	timeout := time.Duration(cfg.EnumerateTimeoutSeconds) * time.Second
	enumCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dev, err := h.WaitDevice(enumCtx)
	if err != nil {
		_ = h.Stop()
		return nil, fmt.Errorf("wait for device: %w", err)
	}

	iface, err := findMSCInterface(dev)
	if err != nil {
		_ = h.Stop()
		return nil, err
	}

	bulkIn, bulkOut, bulkInMaxPacket, bulkOutMaxPacket, err := findBulkEndpoints(dev)
	if err != nil {
		_ = h.Stop()
		return nil, err
	}

	return &boundTransport{
		transport:        dev,
		ifaceNum:         iface.InterfaceNumber,
		bulkIn:           bulkIn,
		bulkOut:          bulkOut,
		bulkInMaxPacket:  bulkInMaxPacket,
		bulkOutMaxPacket: bulkOutMaxPacket,
		vendor:           dev.VendorID(),
		product:          dev.ProductID(),
		close:            h.Stop,
	}, nil
}

// findMSCInterface returns the first interface matching
// ClassMSC/SubclassSCSI/ProtocolBulkOnly (spec.md §6 "driver binding").
func findMSCInterface(dev *host.Device) (*host.InterfaceDescriptor, error) {
	for _, iface := range dev.Interfaces() {
		if iface.InterfaceClass == msc.ClassMSC &&
			iface.InterfaceSubClass == msc.SubclassSCSI &&
			iface.InterfaceProtocol == msc.ProtocolBulkOnly {
			i := iface
			return &i, nil
		}
	}
	return nil, fmt.Errorf("no MSC/SCSI/BulkOnly interface found on device %04x:%04x", dev.VendorID(), dev.ProductID())
}

// findBulkEndpoints returns the device's first bulk IN and bulk OUT
// endpoint addresses and wMaxPacketSize values (spec.md §4.G step 1:
// "require at least two endpoints"; spec.md §3 Device attributes).
func findBulkEndpoints(dev *host.Device) (in, out uint8, inMaxPacket, outMaxPacket uint16, err error) {
	var haveIn, haveOut bool
	for _, ep := range dev.Endpoints() {
		if !ep.IsBulk() {
			continue
		}
		if ep.IsIn() && !haveIn {
			in, inMaxPacket, haveIn = ep.EndpointAddress, ep.MaxPacketSize, true
		}
		if ep.IsOut() && !haveOut {
			out, outMaxPacket, haveOut = ep.EndpointAddress, ep.MaxPacketSize, true
		}
	}
	if !haveIn || !haveOut {
		return 0, 0, 0, 0, fmt.Errorf("%w: device exposes no bulk in/out endpoint pair", errUnsupportedDevice)
	}
	return in, out, inMaxPacket, outMaxPacket, nil
}
