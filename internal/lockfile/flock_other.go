//go:build !unix && !windows

package lockfile

import "os"

// Platforms without advisory locks (wasm) run a single process.
func flockExclusiveNonBlock(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }
