//go:build darwin

package image

/*
#cgo LDFLAGS: -framework CoreFoundation
#include <mach-o/dyld.h>
#include <mach-o/loader.h>
#include <stdint.h>

static uint32_t unwind_dyld_image_count(void) {
	return _dyld_image_count();
}

static const char *unwind_dyld_image_name(uint32_t i) {
	return _dyld_get_image_name(i);
}

static intptr_t unwind_dyld_image_slide(uint32_t i) {
	return _dyld_get_image_vmaddr_slide(i);
}

static const struct mach_header *unwind_dyld_image_header(uint32_t i) {
	return _dyld_get_image_header(i);
}
*/
import "C"

import (
	"debug/macho"
	"os"
)

// dyldEnumerator is the Darwin Enumerator (spec §4.6). It's a best-effort
// rendition: dyld reports each loaded image's slide (the runtime bias
// _dyld_get_image_vmaddr_slide already applied) directly, so this avoids
// the ELF-style PT_LOAD arithmetic entirely, but it derives each image's
// mapped length from its own __TEXT segment size rather than from any
// kernel-level VM map, which undercounts images with multiple __TEXT-like
// segments loaded non-contiguously.
func dyldEnumerator() ([]LoadedRegion, error) {
	count := int(C.unwind_dyld_image_count())
	regions := make([]LoadedRegion, 0, count)

	for i := 0; i < count; i++ {
		namePtr := C.unwind_dyld_image_name(C.uint32_t(i))
		if namePtr == nil {
			continue
		}
		name := C.GoString(namePtr)
		if name == "" {
			continue
		}
		if _, err := os.Stat(name); err != nil {
			continue
		}

		slide := int64(C.unwind_dyld_image_slide(C.uint32_t(i)))

		textBase, length, ok := textSegmentExtent(name)
		if !ok {
			continue
		}
		avma := uint64(int64(textBase) + slide)

		regions = append(regions, LoadedRegion{
			Name:          name,
			Bias:          slide,
			ActualAddress: avma,
			Length:        length,
		})
	}
	return regions, nil
}

// textSegmentExtent returns the static (unslid) address and size of path's
// __TEXT segment, used as the mapped range dyld itself doesn't expose a
// single number for.
func textSegmentExtent(path string) (addr, length uint64, ok bool) {
	f, err := macho.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	seg := f.Segment("__TEXT")
	if seg == nil {
		return 0, 0, false
	}
	return seg.Addr, seg.Memsz, true
}

// NewProcessRegistry builds a Registry from this process's own loaded
// images, as spec §4.6 describes for the default construction path.
func NewProcessRegistry(onSkip func(name string, err error)) *Registry {
	return NewRegistry(dyldEnumerator, onSkip)
}
