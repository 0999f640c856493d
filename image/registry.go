package image

import "sort"

// LoadedRegion is what the OS loaded-image enumerator yields for one
// mapped object (spec §4.6: "{name, virtual-memory-bias, actual-load-address,
// length}"), named a region rather than an image to avoid colliding with the
// Image type it feeds.
type LoadedRegion struct {
	Name          string
	Bias          int64
	ActualAddress uint64
	Length        uint64
}

// Enumerator lists the process's currently loaded shared libraries. Linux
// and Darwin each provide their own (registry_linux.go, registry_darwin.go).
type Enumerator func() ([]LoadedRegion, error)

// Registry is the Image Registry (spec §4.6): an immutable, address-stable
// collection of Images sorted descending by start address, supporting
// O(log N) lookup by AVMA.
type Registry struct {
	images []*Image // sorted descending by StartAddress
}

// NewRegistry runs enumerate, pipelines each region through Build, and
// sorts the result (spec §4.6). Per-image IO/parsing failures are passed
// to onSkip (logged by the caller, typically at Warn) and the image is
// dropped rather than failing construction — the root package's contract
// is that unwind.New never fails.
func NewRegistry(enumerate Enumerator, onSkip func(name string, err error)) *Registry {
	regions, err := enumerate()
	if err != nil {
		if onSkip != nil {
			onSkip("<enumerator>", err)
		}
		return &Registry{}
	}

	images := make([]*Image, 0, len(regions))
	for _, r := range regions {
		img, err := Build(r.Name, r.ActualAddress, r.Length, r.Bias)
		if err != nil {
			if onSkip != nil {
				onSkip(r.Name, err)
			}
			continue
		}
		images = append(images, img)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].StartAddress > images[j].StartAddress })
	return &Registry{images: images}
}

// NewRegistryFromImages builds a Registry directly from an already-built
// image list, sorting it the same way NewRegistry does. Used by callers that
// assemble Images themselves (e.g. tests exercising resolution logic without
// a real enumerator/Build pipeline).
func NewRegistryFromImages(imgs []*Image) *Registry {
	images := append([]*Image(nil), imgs...)
	sort.Slice(images, func(i, j int) bool { return images[i].StartAddress > images[j].StartAddress })
	return &Registry{images: images}
}

// Images returns a read-only snapshot of the registry's sorted image list
// (supplemented feature, spec.md's original `lib.rs` exposed this as a
// public field; see SPEC_FULL.md §6).
func (reg *Registry) Images() []*Image {
	return reg.images
}

// FindImage implements spec §4.6's find_image: binary search over the
// descending ordering. An exact match on StartAddress wins outright;
// otherwise the neighboring image (the one with the greatest StartAddress
// not exceeding avma) is probed with Has.
func (reg *Registry) FindImage(avma uint64) (*Image, bool) {
	imgs := reg.images
	// Find the first index whose StartAddress <= avma (descending order).
	i := sort.Search(len(imgs), func(i int) bool { return imgs[i].StartAddress <= avma })
	if i >= len(imgs) {
		return nil, false
	}
	if imgs[i].StartAddress == avma {
		return imgs[i], true
	}
	if imgs[i].Has(avma) {
		return imgs[i], true
	}
	return nil, false
}

// Close releases every image's underlying handles. Intended for tests that
// build a short-lived Registry; a process-lifetime Registry is typically
// never explicitly closed (spec §5: "released only when the registry is
// dropped").
func (reg *Registry) Close() error {
	var firstErr error
	for _, img := range reg.images {
		if err := img.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
