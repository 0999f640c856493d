package unwind

import (
	"errors"

	"github.com/arcfault/unwind/arch"
	"github.com/arcfault/unwind/frame"
	"github.com/arcfault/unwind/internal/ulog"
)

// Cursor walks the call-frame chain from a starting machine context one
// frame at a time (spec §4.8's "Unwind Cursor").
type Cursor struct {
	registry *Registry
	state    arch.State
	depth    int
}

// NewCursor captures the calling goroutine's own PC/SP and builds a Cursor
// rooted there (spec §4.8 construction path 1). The captured context
// always succeeds on this module's supported platforms (Non-goals: no
// errno-raising OS primitive is involved, unlike a libc getcontext(3)
// binding would require), but the error return is kept so a future
// primitive swap (e.g. a real getcontext(2) syscall shim) doesn't change
// the API.
func NewCursor(reg *Registry) (*Cursor, error) {
	rip, rsp := captureContext()
	return &Cursor{registry: reg, state: arch.NewAMD64State(rip, rsp, nil)}, nil
}

// NewCursorFromContext builds a Cursor from a caller-supplied machine
// context (spec §4.8 construction path 2), e.g. one captured by a signal
// handler or read out of a suspended goroutine's saved registers.
func NewCursorFromContext(reg *Registry, rip, rsp uint64, other map[uint64]uint64) *Cursor {
	return &Cursor{registry: reg, state: arch.NewAMD64State(rip, rsp, other)}
}

// PC returns the current frame's program counter.
func (c *Cursor) PC() uint64 { return c.state.PC() }

// SP returns the current frame's stack pointer.
func (c *Cursor) SP() uint64 { return c.state.SP() }

// Depth returns the number of successful Next calls so far (supplemented
// feature, §6: a depth-limited caller's running frame count).
func (c *Cursor) Depth() int { return c.depth }

// setupUnwindInfo implements spec §4.8's setup_unwind_info: find the
// owning image, compute the SVMA, and resolve the unwind row for it,
// preferring the .eh_frame_hdr binary-search index when present and
// falling back to a linear .eh_frame scan.
func (c *Cursor) setupUnwindInfo() (*frame.FrameContext, error) {
	rip := c.state.PC()
	img, ok := c.registry.FindImage(rip)
	if !ok {
		return nil, errUnknownPC(rip)
	}
	svma := uint64(int64(rip) - img.Bias)

	if img.EHFrameHdr != nil {
		row, err := img.EHFrameHdr.FDEForPC(svma)
		if err == nil {
			return row, nil
		}
		ulog.L().WithError(err).Tracef("unwind: .eh_frame_hdr lookup failed for svma %#x in %s, falling back to linear scan", svma, img.Filename)
	}

	if img.EHFrame == nil {
		return nil, errGimli("image has no parsed .eh_frame section", nil)
	}
	row, err := img.EHFrame.FDEForPC(svma)
	if err != nil {
		return nil, wrapFrameError(err, rip)
	}
	return row, nil
}

// Next implements spec §4.8's next(): snapshot state, resolve the unwind
// row for the current PC, step the snapshot, and only commit it back if
// every step succeeded. Termination conditions (§4.8): the return-address
// rule is Undefined (KindUnwindEnded), the new PC has no owning image
// (KindUnknownPC), or the CFI names a construct AMD64State rejects
// (KindNotSupported). Callers iterate Next until it returns a non-nil
// error; IsUnwindEnded distinguishes the expected terminator from a real
// failure. When ulog.EnableStackLogging has turned stack tracing on, each
// call logs the resolved CFA/return-register rule for the frame being
// stepped before touching any register state.
func (c *Cursor) Next() error {
	row, err := c.setupUnwindInfo()
	if err != nil {
		return err
	}

	if ulog.StackEnabled() {
		ulog.L().Tracef("unwind: frame %d pc=%#x sp=%#x cfa_rule=%d ret_addr_reg=%d tracked_regs=%d", c.depth, c.state.PC(), c.state.SP(), row.CFA.Rule, row.RetAddrReg, len(row.Regs))
	}

	next := c.state.Clone()
	if err := next.Step(row, localMemoryReader, arch.PtrSize); err != nil {
		return wrapStateError(err)
	}

	if _, ok := c.registry.FindImage(next.PC()); !ok {
		return errUnknownPC(next.PC())
	}

	c.state = next
	c.depth++
	return nil
}

// SymbolInfo implements spec §4.8's get_sym_info: resolve_symbol(rip).
func (c *Cursor) SymbolInfo() (*SymbolInfo, error) {
	return c.registry.ResolveSymbol(c.state.PC())
}

// wrapFrameError tags a frame-package error with the root Kind taxonomy.
// frame.ErrNoFDEForPC means the CFI simply doesn't cover this PC (treated
// as KindUnknownPC, since from the cursor's perspective an address with
// no unwind info is indistinguishable from one outside any image); every
// other error is malformed CFI data (KindGimli).
func wrapFrameError(err error, pc uint64) error {
	var noFDE *frame.ErrNoFDEForPC
	if errors.As(err, &noFDE) {
		return errUnknownPC(pc)
	}
	var g *frame.GimliError
	if errors.As(err, &g) {
		return errGimli("parsing CFI", g.Err)
	}
	return errGimli("resolving unwind row", err)
}

// wrapStateError tags an arch-package error with the root Kind taxonomy.
func wrapStateError(err error) error {
	var ended *arch.UnwindEndedError
	if errors.As(err, &ended) {
		return errUnwindEnded(ended.Msg)
	}
	var notSupported *arch.NotSupportedError
	if errors.As(err, &notSupported) {
		return errNotSupported(notSupported.Msg)
	}
	var logical *arch.LogicalError
	if errors.As(err, &logical) {
		return errUnwindLogical(logical.Msg)
	}
	return errUnwindLogical(err.Error())
}
