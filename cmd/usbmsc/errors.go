package main

import "errors"

// errUnsupportedDevice mirrors spec.md §7's UNSUPPORTED bind-failure kind
// for the CLI's own endpoint-discovery step (ahead of msc.Bind, which
// returns the same classification for its own endpoint checks).
var errUnsupportedDevice = errors.New("unsupported device layout")
