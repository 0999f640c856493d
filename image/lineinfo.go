package image

import "debug/dwarf"

// InlineFrame is one entry of the inline-frame chain the Line-Info Context
// resolves for an SVMA (spec §4.5 / §4.9's "Frame::Dwarf").
type InlineFrame struct {
	Function string
	File     string
	Line     int
	Column   int
}

// LineContext wraps debug/dwarf's Reader/LineReader into the resolver spec
// §4.5 describes: "a resolver keyed by SVMA that returns an inline-frame
// chain ... The design expects this resolver to be provided by an external
// library; the component only wires it up" — debug/dwarf is that library.
type LineContext struct {
	data *dwarf.Data

	// dsymImage is non-nil when this LineContext's debug info was loaded
	// from a dSYM bundle rather than from the primary object (spec §4.4);
	// it owns a second mmap that must be released alongside the Image.
	dsymImage *RawImage
}

// Close releases the dSYM mapping, if one was opened.
func (lc *LineContext) Close() error {
	if lc == nil || lc.dsymImage == nil {
		return nil
	}
	return lc.dsymImage.Close()
}

// FindFrames resolves svma to its inline-frame chain, innermost (most
// deeply inlined) frame first (spec §3: "outer-most frame last"; matches
// addr2line::Context::find_frames's FrameIter order, which the original
// rests on). Returns (nil, nil) if svma isn't covered by any compile
// unit's line table.
func (lc *LineContext) FindFrames(svma uint64) ([]InlineFrame, error) {
	if lc == nil || lc.data == nil {
		return nil, nil
	}
	r := lc.data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		ranges, err := lc.data.Ranges(entry)
		if err != nil || !inRanges(ranges, svma) {
			r.SkipChildren()
			continue
		}

		lr, err := lc.data.LineReader(entry)
		if err != nil {
			lr = nil
		}

		// walkInlineChain appends outermost first (it descends the DIE
		// tree top-down); reverse so the returned chain is innermost
		// first, per spec.
		var frames []InlineFrame
		if err := walkInlineChain(r, lc.data, lr, svma, &frames); err != nil {
			return nil, err
		}
		reverseFrames(frames)
		if len(frames) > 0 && lr != nil {
			file, line, col, ok := lookupLineTable(lr, svma)
			if ok {
				frames[0].File = file
				frames[0].Line = line
				frames[0].Column = col
			}
		}
		return frames, nil
	}
}

// reverseFrames reverses frames in place.
func reverseFrames(frames []InlineFrame) {
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
}

// walkInlineChain descends the DIE tree below the current reader position
// (already inside a compile unit whose range covers svma), appending one
// InlineFrame per TagSubprogram/TagInlinedSubroutine DIE whose own address
// ranges cover svma. A DW_TAG_inlined_subroutine's call_file/call_line/
// call_column attributes describe where in its *caller* the inlining
// occurred, so they backfill the previously appended frame rather than the
// one being built now.
func walkInlineChain(r *dwarf.Reader, data *dwarf.Data, lr *dwarf.LineReader, svma uint64, frames *[]InlineFrame) error {
	for {
		entry, err := r.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}

		isFunc := entry.Tag == dwarf.TagSubprogram || entry.Tag == dwarf.TagInlinedSubroutine
		covers := false
		if isFunc {
			ranges, rerr := data.Ranges(entry)
			if rerr == nil && inRanges(ranges, svma) {
				covers = true
			}
		}

		if covers {
			*frames = append(*frames, InlineFrame{Function: entryName(data, entry)})
			if entry.Tag == dwarf.TagInlinedSubroutine && len(*frames) >= 2 {
				file, line, col := callSite(lr, entry)
				caller := len(*frames) - 2
				(*frames)[caller].File = file
				(*frames)[caller].Line = line
				(*frames)[caller].Column = col
			}
		}

		if entry.Children {
			if covers {
				if err := walkInlineChain(r, data, lr, svma, frames); err != nil {
					return err
				}
			} else {
				r.SkipChildren()
			}
		}
	}
}

func entryName(data *dwarf.Data, entry *dwarf.Entry) string {
	if name, ok := entry.Val(dwarf.AttrName).(string); ok {
		return name
	}
	off, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		return ""
	}
	r := data.Reader()
	r.Seek(off)
	origin, err := r.Next()
	if err != nil || origin == nil {
		return ""
	}
	name, _ := origin.Val(dwarf.AttrName).(string)
	return name
}

// callSite reads an inlined subroutine's DW_AT_call_file/line/column,
// resolving the file index against the compile unit's line-table file list.
func callSite(lr *dwarf.LineReader, entry *dwarf.Entry) (file string, line, col int) {
	line = intAttr(entry, dwarf.AttrCallLine)
	col = intAttr(entry, dwarf.AttrCallColumn)

	fileIdx, ok := entry.Val(dwarf.AttrCallFile).(int64)
	if !ok || lr == nil {
		return "", line, col
	}
	files := lr.Files()
	if fileIdx < 0 || int(fileIdx) >= len(files) || files[fileIdx] == nil {
		return "", line, col
	}
	return files[fileIdx].Name, line, col
}

func intAttr(entry *dwarf.Entry, attr dwarf.Attr) int {
	switch v := entry.Val(attr).(type) {
	case int64:
		return int(v)
	default:
		return 0
	}
}

func lookupLineTable(lr *dwarf.LineReader, svma uint64) (file string, line, col int, ok bool) {
	var le dwarf.LineEntry
	if err := lr.SeekPC(svma, &le); err != nil {
		return "", 0, 0, false
	}
	if le.File != nil {
		file = le.File.Name
	}
	return file, le.Line, le.Column, true
}

// inRanges reports whether addr falls within any of the half-open
// [low, high) ranges dwarf.Data.Ranges returns for a DIE.
func inRanges(ranges [][2]uint64, addr uint64) bool {
	for _, r := range ranges {
		if addr >= r[0] && addr < r[1] {
			return true
		}
	}
	return false
}
