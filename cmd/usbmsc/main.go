// Command usbmsc binds the host/class/msc driver to one USB Mass Storage
// Class device and prints a live per-LUN summary as readiness sweeps add
// and remove logical units, until interrupted.
//
// Usage:
//
//	usbmsc run [-config usbmsc.yml]
//	usbmsc mkconf [-config usbmsc.yml]
//	usbmsc conf [-config usbmsc.yml]
//	usbmsc version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/knadh/koanf"

	"github.com/ardnew/usbmsc/host/class/msc"
	"github.com/ardnew/usbmsc/pkg"
	"github.com/ardnew/usbmsc/pkg/linux/usbid"

	// Registers /debug/pprof handlers when built with -tags profile;
	// a no-op import otherwise (pkg/prof/stub.go).
	_ "github.com/ardnew/usbmsc/pkg/prof"

	"github.com/theckman/yacspin"
)

// Version is the CLI version, injectable via -ldflags the way
// multiserver's own Version var is.
var Version = "dev"

func main() {
	configPath := flag.String("config", configFileName, "path to YAML config file")
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "run":
		runCmd(*configPath)
	case "mkconf":
		if err := writeDefaultConfig(*configPath); err != nil {
			fatal("mkconf: %v", err)
		}
	case "conf":
		confCmd(*configPath)
	case "version":
		fmt.Printf("usbmsc version %s\n", Version)
	case "help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`usbmsc drives a USB Mass Storage Class (Bulk-Only Transport / SCSI) device.

Usage:
	usbmsc <command> [-config usbmsc.yml]

Commands:
	run      bind the configured device and print LUN activity until interrupted
	mkconf   write the default configuration to -config
	conf     print the effective configuration (defaults + file overlay)
	version  print the CLI version
	help     print this message`)
}

func confCmd(configPath string) {
	cfg, err := loadConfig(koanf.New("."), configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	fmt.Printf("%+v\n", cfg)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runCmd(configPath string) {
	cfg, err := loadConfig(koanf.New("."), configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	pkg.SetLogLevel(parseLogLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		cancel()
	}()

	bt, err := openTransport(ctx, cfg)
	if err != nil {
		fatal("open transport: %v", err)
	}
	defer bt.close()

	printDeviceBanner(bt)

	dev, err := bindWithRetry(ctx, cfg, bt)
	if err != nil {
		fatal("bind: %v", err)
	}
	defer dev.Unbind(context.Background())

	fmt.Printf("bound: max-lun=%d\n", dev.MaxLUN())

	<-ctx.Done()
}

// bindWithRetry wraps msc.Bind in an exponential backoff, the same shape
// nasa-jpl-golaborate's comm package uses to reopen a serial/TCP link:
// devices sometimes NAK the very first GET_MAX_LUN right after
// enumeration, and immediately giving up on that is needlessly brittle.
// A yacspin spinner runs for the duration so a multi-second LUN probe
// sweep at startup (spec.md §4.D) doesn't look like a hang.
func bindWithRetry(ctx context.Context, cfg Config, bt *boundTransport) (*msc.Device, error) {
	spin, err := newBindSpinner()
	if err != nil {
		return nil, fmt.Errorf("spinner: %w", err)
	}
	_ = spin.Start()

	reg := newConsoleRegistrar(cfg.Color)

	var dev *msc.Device
	op := func() error {
		d, err := msc.Bind(ctx, bt.transport, bt.ifaceNum, bt.bulkIn, bt.bulkOut,
			msc.WithRegistrar(reg),
			msc.WithMaxTransferBytes(cfg.MaxTransferBytes),
			msc.WithMaxPacketSizes(bt.bulkInMaxPacket, bt.bulkOutMaxPacket),
		)
		if err != nil {
			return err
		}
		dev = d
		return nil
	}

	if cfg.BindRetries <= 0 {
		if err := op(); err != nil {
			_ = spin.StopFail()
			return nil, err
		}
		_ = spin.Stop()
		return dev, nil
	}

	boff := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      time.Duration(cfg.BindMaxElapsedSeconds) * time.Second,
		Clock:               backoff.SystemClock,
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(boff, uint64(cfg.BindRetries))); err != nil {
		_ = spin.StopFail()
		return nil, err
	}
	_ = spin.Stop()
	return dev, nil
}

func newBindSpinner() (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " binding MSC device",
		SuffixAutoColon: true,
		Message:         "probing LUNs",
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
		StopFailMessage: "bind failed",
		StopFailColors:  []string{"fgRed"},
	})
}

func printDeviceBanner(bt *boundTransport) {
	db := usbid.New()
	db.Load()
	vendor := db.LookupVendor(bt.vendor)
	product := db.LookupProduct(bt.vendor, bt.product)
	fmt.Printf("device: %04x:%04x", bt.vendor, bt.product)
	if vendor != "" || product != "" {
		fmt.Printf(" (%s %s)", vendor, product)
	}
	fmt.Println()
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
