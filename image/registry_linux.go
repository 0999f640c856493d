//go:build linux

package image

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// procMapsEnumerator is the Linux Enumerator (spec §4.6): "iterate the
// process's currently loaded shared libraries via the OS interface" — on
// Linux that's /proc/self/maps, one line per mapped VMA.
func procMapsEnumerator() ([]LoadedRegion, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("image: opening /proc/self/maps: %w", err)
	}
	defer f.Close()

	type span struct {
		start, end uint64
		fileOffset uint64 // offset field of the lowest-address mapping seen
	}
	spans := make(map[string]*span)
	order := make([]string, 0, 32)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		if !strings.HasPrefix(path, "/") {
			continue // skip [heap], [stack], [vdso], anonymous mappings
		}

		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrs[0], 16, 64)
		end, err2 := strconv.ParseUint(addrs[1], 16, 64)
		offset, err3 := strconv.ParseUint(fields[2], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		sp, ok := spans[path]
		if !ok {
			sp = &span{start: start, end: end, fileOffset: offset}
			spans[path] = sp
			order = append(order, path)
			continue
		}
		if start < sp.start {
			sp.start = start
			sp.fileOffset = offset
		}
		if end > sp.end {
			sp.end = end
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("image: reading /proc/self/maps: %w", err)
	}

	regions := make([]LoadedRegion, 0, len(order))
	for _, path := range order {
		sp := spans[path]
		bias := elfBias(path, sp.start, sp.fileOffset)
		regions = append(regions, LoadedRegion{
			Name:          path,
			Bias:          bias,
			ActualAddress: sp.start,
			Length:        sp.end - sp.start,
		})
	}
	return regions, nil
}

// elfBias computes AVMA - SVMA for the object at path, following the
// reasoning Google's pprof uses in its elfexec.GetBase: a non-relocatable
// executable (ET_EXEC) loads at its own link-time addresses, so bias is 0;
// a position-independent executable or shared library (ET_DYN) loads at an
// arbitrary base, so bias is derived from the lowest-address mapping's file
// offset and the first PT_LOAD segment's own file offset and vaddr. Any
// failure to open or parse the file is non-fatal here — it just leaves the
// image unbiased, which Build's own open of the same file will catch for
// real if the path is truly unreadable.
func elfBias(path string, avma, mappingOffset uint64) int64 {
	f, err := elf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	if f.Type == elf.ET_EXEC {
		return 0
	}

	var load *elf.ProgHeader
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if load == nil || p.Vaddr < load.Vaddr {
			ph := p.ProgHeader
			load = &ph
		}
	}
	if load == nil {
		return 0
	}
	return int64(avma) - int64(mappingOffset) + int64(load.Off) - int64(load.Vaddr)
}

// NewProcessRegistry builds a Registry from this process's own loaded
// images, as spec §4.6 describes for the default construction path.
func NewProcessRegistry(onSkip func(name string, err error)) *Registry {
	return NewRegistry(procMapsEnumerator, onSkip)
}
