package image

import (
	"os"
	"path/filepath"

	"github.com/arcfault/unwind/internal/ulog"
)

// buildLineContext implements the Debug Info Loader (spec §4.4): load each
// DWARF section on demand from obj; if obj has no debug symbols and the
// format supports external debug files (Mach-O dSYM by UUID), locate and
// load that file instead. Returns (nil, nil) if neither source yields
// symbols — the caller treats a nil LineContext as "fall back to the
// symbol map" (spec §4.4: "the line context then becomes null").
func buildLineContext(obj ObjectFile, path string) (*LineContext, error) {
	data, err := obj.DWARF()
	if err != nil {
		return nil, err
	}
	if data != nil {
		return &LineContext{data: data}, nil
	}

	uuid, ok := obj.UUID()
	if !ok {
		return nil, nil
	}
	dsymPath := dsymPathFor(path)
	if _, err := os.Stat(dsymPath); err != nil {
		return nil, nil
	}
	raw, err := LoadRawImage(dsymPath)
	if err != nil {
		ulog.L().WithError(err).Warnf("image: loading dSYM bundle for %s (uuid %s)", path, uuid)
		return nil, nil
	}
	dsymData, err := raw.Object.DWARF()
	if err != nil || dsymData == nil {
		raw.Close()
		return nil, nil
	}
	if dsymUUID, ok := raw.Object.UUID(); ok && dsymUUID != uuid {
		ulog.L().Warnf("image: dSYM UUID %s for %s does not match object UUID %s", dsymUUID, path, uuid)
	}
	return &LineContext{data: dsymData, dsymImage: raw}, nil
}

// dsymPathFor returns the conventional dSYM bundle path for an executable
// or dylib at path (spec §4.4: "located by UUID", using the standard macOS
// bundle layout since this module doesn't attempt Spotlight-style lookup).
func dsymPathFor(path string) string {
	return filepath.Join(path+".dSYM", "Contents", "Resources", "DWARF", filepath.Base(path))
}
