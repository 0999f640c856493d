package image

import "fmt"

// BaseAddresses holds the static addresses of the sections CFI unwinding
// and symbolication need (spec §4.2). Optional fields are nil when the
// platform's object format doesn't carry that section.
type BaseAddresses struct {
	Text       uint64
	EHFrame    uint64
	GOT        uint64
	EHFrameHdr *uint64 // optional
}

// sectionEntry names one section this module reads plus whether the image
// is unusable without it.
type sectionEntry struct {
	name     string
	required bool
}

// elfSections is the per-OS table spec §4.2 describes: ".text, .eh_frame,
// .got as base and .eh_frame_hdr as optional". The header is optional on
// every OS, Linux included: an image without it is still registered, and
// the Cursor finds its unwind rows with the linear .eh_frame scan. No
// setting makes the header required.
var elfSections = []sectionEntry{
	{name: ".text", required: true},
	{name: ".eh_frame", required: true},
	{name: ".got", required: true},
	{name: ".eh_frame_hdr", required: false},
}

// machoSections is Mach-O's table: no .eh_frame_hdr equivalent ships in
// Mach-O objects, so the header field is always left nil there (spec §4.2:
// "Mach-O contains __text, __eh_frame, __got as base and no header").
var machoSections = []sectionEntry{
	{name: "__text", required: true},
	{name: "__eh_frame", required: true},
	{name: "__got", required: true},
}

// sectionTableFor returns the per-OS table named in spec §4.2 for the
// object's own container format (ELF objects always use elfSections, Mach-O
// always machoSections — the running OS is irrelevant to which table an
// already-parsed object uses, only to which loader found it).
func sectionTableFor(obj ObjectFile) []sectionEntry {
	if _, isMacho := obj.(*machoObject); isMacho {
		return machoSections
	}
	return elfSections
}

// buildBaseAddresses implements spec §4.2's construction rule: "start from
// empty; for each base entry, require the section; failing any -> return
// no base addresses. Then overlay optional entries best-effort."
func buildBaseAddresses(obj ObjectFile, table []sectionEntry) (*BaseAddresses, error) {
	base := &BaseAddresses{}
	for _, e := range table {
		addr, ok := obj.SectionAddr(e.name)
		if !ok {
			if e.required {
				return nil, fmt.Errorf("image: missing required section %s", e.name)
			}
			continue
		}
		switch e.name {
		case ".text", "__text":
			base.Text = addr
		case ".eh_frame", "__eh_frame":
			base.EHFrame = addr
		case ".got", "__got":
			base.GOT = addr
		case ".eh_frame_hdr":
			v := addr
			base.EHFrameHdr = &v
		}
	}
	return base, nil
}
