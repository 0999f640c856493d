// Package unwind implements in-process stack unwinding and symbolication
// for running x86-64 programs: given a captured machine context, it walks
// the call-frame chain via DWARF Call Frame Information and resolves each
// program counter to an owning image, static address, inline-frame chain,
// and source location.
package unwind

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/arcfault/unwind/image"
	"github.com/arcfault/unwind/internal/ulog"
)

// Frame is one entry of a resolved symbol's frame chain: either a
// DWARF-sourced inline frame or a bare symbol-table name (spec §4.9 steps
// 3-4, "Frame::Dwarf" / "Frame::SymbolMap").
type Frame interface {
	isFrame()
}

// DwarfFrame is a frame resolved from the line-info context (spec §3's
// "Frame::Dwarf(function, file, line, column)").
type DwarfFrame struct {
	Function string
	File     string
	Line     int
	Column   int
}

func (DwarfFrame) isFrame() {}

// SymbolMapFrame is a frame resolved only from the static symbol table,
// used when no line-info context exists or it yielded no frames (spec
// §3's "Frame::SymbolMap(name)").
type SymbolMapFrame struct {
	Name string
}

func (SymbolMapFrame) isFrame() {}

// SymbolInfo is the result of resolving one address (spec §3, §4.9).
type SymbolInfo struct {
	// ObjectName is nil when avma fell outside every registered image.
	ObjectName *string
	AVMA       uint64
	// SVMA is nil under the same condition as ObjectName.
	SVMA   *uint64
	Frames []Frame
}

// IsUnresolved reports the boundary case spec §8 describes: avma matched
// no image, so only AVMA was populated (the original's
// SymbolInfo::unresolved constructor).
func (si *SymbolInfo) IsUnresolved() bool {
	return si.ObjectName == nil && len(si.Frames) == 0
}

// options configures Registry construction (§2's "small functional-options
// struct, registry.Options").
type options struct {
	logger    *logrus.Logger
	cacheSize int
}

// Option configures a Registry built by New.
type Option func(*options)

// WithLogger routes this module's diagnostics (skipped images, CFI
// fallbacks) through l instead of the package default.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSymbolCacheSize overrides the LRU size ResolveSymbol memoizes
// results in. The default favors a modest, bounded cache (§2: "a modest
// LRU") over unbounded growth, since a long-running profiler may resolve
// millions of distinct AVMAs over its lifetime.
func WithSymbolCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

const defaultSymbolCacheSize = 1024

// Registry is the top-level handle on this process's loaded images and
// their resolved symbol cache (data model's "GlobalContext"). It is
// immutable after New returns, except for the symbol cache, which is
// populated lazily and safely for concurrent readers (golang-lru.Cache is
// itself internally synchronized).
type Registry struct {
	images *image.Registry
	cache  *lru.Cache
}

// New builds a Registry by enumerating this process's currently loaded
// images (spec §4.6). It never fails: an image whose raw-image or
// base-address step fails is logged at Warn and skipped, matching §7's
// "Registry construction swallows per-image IO/ObjectParsing errors".
func New(opts ...Option) *Registry {
	cfg := options{cacheSize: defaultSymbolCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger != nil {
		ulog.SetLogger(cfg.logger)
	}

	onSkip := func(name string, err error) {
		ulog.L().WithError(err).Warnf("unwind: skipping image %s", name)
	}

	cache, err := lru.New(cfg.cacheSize)
	if err != nil {
		// Only returned for a non-positive size; defaultSymbolCacheSize
		// is always valid, so this only triggers a caller-supplied
		// WithSymbolCacheSize(n<=0), which falls back to the default
		// rather than leaving the registry without a cache.
		cache, _ = lru.New(defaultSymbolCacheSize)
	}

	return &Registry{
		images: image.NewProcessRegistry(onSkip),
		cache:  cache,
	}
}

// Images returns a read-only snapshot of the registry's images, sorted
// descending by start address (supplemented feature, §6).
func (r *Registry) Images() []*image.Image {
	return r.images.Images()
}

// FindImage implements spec §4.6's find_image.
func (r *Registry) FindImage(avma uint64) (*image.Image, bool) {
	return r.images.FindImage(avma)
}

// Close releases every registered image's mapping and file handles.
func (r *Registry) Close() error {
	return r.images.Close()
}

// ResolveSymbol implements spec §4.9's resolve_symbol, memoized by avma
// (the LRU named in the domain stack: repeated resolution of the same hot
// loop's call site is the expected workload for a sampling profiler built
// atop this registry).
func (r *Registry) ResolveSymbol(avma uint64) (*SymbolInfo, error) {
	if cached, ok := r.cache.Get(avma); ok {
		return cached.(*SymbolInfo), nil
	}

	info, err := r.resolveSymbol(avma)
	if err != nil {
		return nil, err
	}
	r.cache.Add(avma, info)
	return info, nil
}

func (r *Registry) resolveSymbol(avma uint64) (*SymbolInfo, error) {
	img, ok := r.FindImage(avma)
	if !ok {
		return &SymbolInfo{AVMA: avma}, nil
	}

	svma := uint64(int64(avma) - img.Bias)
	name := img.Filename
	info := &SymbolInfo{ObjectName: &name, AVMA: avma, SVMA: &svma}

	if img.LineContext != nil {
		frames, err := img.LineContext.FindFrames(svma)
		if err != nil {
			return nil, errGimli(fmt.Sprintf("resolving inline frames in %s", name), err)
		}
		for _, f := range frames {
			info.Frames = append(info.Frames, DwarfFrame{
				Function: f.Function,
				File:     f.File,
				Line:     f.Line,
				Column:   f.Column,
			})
		}
	}

	if len(info.Frames) == 0 && img.Symbols != nil {
		if symName, ok := img.Symbols.Lookup(svma); ok {
			info.Frames = append(info.Frames, SymbolMapFrame{Name: symName})
		}
	}

	return info, nil
}
