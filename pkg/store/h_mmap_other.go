//go:build !unix

package store

import (
	"errors"
	"os"
)

var MmapUnsupportedErr = errors.New("mmap backend is only available on unix")

func mapFile(*os.File, int) ([]byte, error) { return nil, MmapUnsupportedErr }

func unmapFile([]byte) error { return nil }

func syncMapping([]byte) error { return MmapUnsupportedErr }
