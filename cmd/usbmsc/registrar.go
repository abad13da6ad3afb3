package main

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fatih/color"

	"github.com/ardnew/usbmsc/host/class/msc"
)

// consoleRegistrar is the msc.Registrar the CLI hands to msc.Bind. There is
// no host block layer in this repo (spec.md §1 names it an external
// collaborator); this implementation stands in for one by printing a
// per-LUN summary table, colored per spec.md §6's published attributes, and
// tracking what is currently registered for snapshot's use.
type consoleRegistrar struct {
	mu       sync.Mutex
	luns     map[uint8]msc.LUNInfo
	colorful bool
}

func newConsoleRegistrar(colorful bool) *consoleRegistrar {
	return &consoleRegistrar{luns: make(map[uint8]msc.LUNInfo), colorful: colorful}
}

func (r *consoleRegistrar) RegisterLUN(info msc.LUNInfo) error {
	r.mu.Lock()
	r.luns[info.LUN] = info
	r.mu.Unlock()
	r.printRow("+", info)
	return nil
}

func (r *consoleRegistrar) UnregisterLUN(lun uint8) error {
	r.mu.Lock()
	info, ok := r.luns[lun]
	delete(r.luns, lun)
	r.mu.Unlock()
	if ok {
		r.printRow("-", info)
	} else {
		fmt.Printf("  - lun %d (was not registered)\n", lun)
	}
	return nil
}

func (r *consoleRegistrar) printRow(sign string, info msc.LUNInfo) {
	flags := lunFlagSummary(info)
	if !r.colorful {
		fmt.Printf("  %s lun %d: %d x %d bytes  %s\n", sign, info.LUN, info.TotalBlocks, info.BlockSize, flags)
		return
	}
	signColor := color.New(color.FgGreen)
	if sign == "-" {
		signColor = color.New(color.FgRed)
	}
	signColor.Printf("  %s ", sign)
	fmt.Printf("lun %d: %d x %d bytes  %s\n", info.LUN, info.TotalBlocks, info.BlockSize, flags)
}

// lunFlagSummary renders a LUN's READ_ONLY/REMOVABLE flags as a short tag
// list (spec.md §6 "published attributes ... flags").
func lunFlagSummary(info msc.LUNInfo) string {
	var tags []string
	if info.Removable {
		tags = append(tags, "removable")
	}
	if info.WriteProtected {
		tags = append(tags, "read-only")
	} else {
		tags = append(tags, "read-write")
	}
	return "[" + joinTags(tags) + "]"
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}

// snapshot returns a copy of every currently registered LUN, ordered by
// LUN index.
func (r *consoleRegistrar) snapshot() []msc.LUNInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]msc.LUNInfo, 0, len(r.luns))
	for _, info := range r.luns {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LUN < out[j].LUN })
	return out
}
