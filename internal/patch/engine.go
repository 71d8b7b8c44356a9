// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package patch composes replacement methods from prefixes, postfixes and
// transpilers and redirects originals to them.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/errors"
	"github.com/dotandev/ilpatch/internal/filelog"
	"github.com/dotandev/ilpatch/internal/journal"
	"github.com/dotandev/ilpatch/internal/logger"
	"github.com/dotandev/ilpatch/internal/native"
	"github.com/dotandev/ilpatch/internal/shutdown"
	"github.com/dotandev/ilpatch/internal/telemetry"
)

// Version is the engine version. Hooks may not require a newer one.
const Version = "1.0.0"

var engineVersion = version.Must(version.NewVersion(Version))

// Recorder receives every installed generation.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Engine owns the patch registry of one runtime. Hooks registered through
// Patch are owned by the engine id. All registration, composition and
// redirection runs under one lock.
//
// Redirection is not synchronized with threads already running the
// original: such a thread may see a partially written jump. Callers that
// cannot accept this must quiesce the method themselves.
type Engine struct {
	id string
	rt Runtime

	mu       sync.Mutex
	registry *Registry
	closed   bool

	trace    *filelog.Log
	recorder Recorder
	tracer   oteltrace.Tracer
	log      *slog.Logger
	teardown *shutdown.Coordinator
	now      func() time.Time
}

type Option func(*Engine)

// WithTrace writes every decoded and emitted instruction to l.
func WithTrace(l *filelog.Log) Option {
	return func(e *Engine) { e.trace = l }
}

// WithRecorder journals every installed generation.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithTracer(t oteltrace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTeardown registers fn to run on Close.
func WithTeardown(name string, fn shutdown.HookFunc) Option {
	return func(e *Engine) { e.teardown.Register(name, fn) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(id string, rt Runtime, opts ...Option) (*Engine, error) {
	if id == "" {
		return nil, errors.WrapValidationError("engine id must not be empty")
	}
	if rt == nil {
		return nil, errors.WrapValidationError("engine needs a runtime")
	}
	e := &Engine{
		id:       id,
		rt:       rt,
		registry: NewRegistry(),
		tracer:   telemetry.GetTracer(),
		teardown: shutdown.NewCoordinator(),
		now:      time.Now,
	}
	e.teardown.Register("trace", func(context.Context) error {
		e.trace.FlushBuffer()
		return nil
	})
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.For("patch").With("engine", id)
	}
	return e, nil
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return fmt.Errorf("engine %q is closed", e.id)
	}
	return nil
}

// Patch registers any of prefix, postfix and transpiler on original under
// the engine id and installs a new replacement. Nil hooks are skipped. On
// failure nothing is registered and the original keeps its current
// behavior.
func (e *Engine) Patch(ctx context.Context, original *cil.Method, prefix, postfix, transpiler *Hook) (*Generation, error) {
	return e.PatchAs(ctx, e.id, original, prefix, postfix, transpiler)
}

// PatchAs is Patch with an explicit owner. Before and After constraints
// of other hooks refer to owners.
func (e *Engine) PatchAs(ctx context.Context, owner string, original *cil.Method, prefix, postfix, transpiler *Hook) (*Generation, error) {
	if owner == "" {
		owner = e.id
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if original == nil {
		return nil, errors.WrapValidationError("original method is nil")
	}

	ctx, span := e.tracer.Start(ctx, "ilpatch.patch",
		oteltrace.WithAttributes(telemetry.MethodAttr(original.FullName()), attribute.String("ilpatch.owner", owner)))
	g, err := e.patch(ctx, owner, original, prefix, postfix, transpiler)
	telemetry.End(span, err)
	return g, err
}

func (e *Engine) patch(ctx context.Context, owner string, original *cil.Method, prefix, postfix, transpiler *Hook) (*Generation, error) {
	for _, h := range []*Hook{prefix, postfix, transpiler} {
		if err := checkRequires(h); err != nil {
			return nil, err
		}
	}
	info := NewPatchInfo()
	if current, ok := e.registry.PatchInfo(original); ok {
		info = current.Clone()
	}
	if err := info.Add(KindPrefix, owner, prefix); err != nil {
		return nil, errors.WrapValidationError(err.Error())
	}
	if err := info.Add(KindPostfix, owner, postfix); err != nil {
		return nil, errors.WrapValidationError(err.Error())
	}
	if err := info.Add(KindTranspiler, owner, transpiler); err != nil {
		return nil, errors.WrapValidationError(err.Error())
	}
	return e.update(ctx, original, info)
}

func checkRequires(h *Hook) error {
	if h == nil || h.Requires == "" {
		return nil
	}
	want, err := version.NewVersion(h.Requires)
	if err != nil {
		return errors.WrapValidationError(fmt.Sprintf("hook %s: bad required version %q", h, h.Requires))
	}
	if want.GreaterThan(engineVersion) {
		return errors.WrapValidationError(fmt.Sprintf("hook %s requires engine %s, have %s", h, want, engineVersion))
	}
	return nil
}

// Unpatch removes original's hooks of kind registered by owner (every
// owner when owner is empty) and installs the resulting replacement. When
// nothing matches, the current generation is returned unchanged.
func (e *Engine) Unpatch(ctx context.Context, original *cil.Method, kind Kind, owner string) (*Generation, error) {
	return e.remove(ctx, original, func(info *PatchInfo) int {
		return info.Remove(kind, owner)
	})
}

// UnpatchHook removes every registration of h from original.
func (e *Engine) UnpatchHook(ctx context.Context, original *cil.Method, h *Hook) (*Generation, error) {
	return e.remove(ctx, original, func(info *PatchInfo) int {
		return info.RemoveHook(h)
	})
}

func (e *Engine) remove(ctx context.Context, original *cil.Method, drop func(*PatchInfo) int) (*Generation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	current, ok := e.registry.PatchInfo(original)
	if !ok {
		return nil, errors.WrapNotPatched(original.FullName())
	}
	info := current.Clone()
	if drop(info) == 0 {
		g, _ := e.registry.Current(original)
		return g, nil
	}

	ctx, span := e.tracer.Start(ctx, "ilpatch.patch",
		oteltrace.WithAttributes(telemetry.MethodAttr(original.FullName()), attribute.Bool("ilpatch.unpatch", true)))
	g, err := e.update(ctx, original, info)
	telemetry.End(span, err)
	return g, err
}

// update composes and installs a replacement for info. info becomes the
// current patch set only when both steps succeed.
func (e *Engine) update(ctx context.Context, original *cil.Method, info *PatchInfo) (*Generation, error) {
	n := e.registry.Next(original)
	plan := Plan{
		Original:    original,
		Prefixes:    hooksOf(Sort(info.Prefixes)),
		Postfixes:   hooksOf(Sort(info.Postfixes)),
		Transpilers: hooksOf(Sort(info.Transpilers)),
		Generation:  n,
	}

	_, span := e.tracer.Start(ctx, "ilpatch.compose",
		oteltrace.WithAttributes(telemetry.GenerationAttr(n), telemetry.OwnersAttr(info.Owners())))
	replacement, err := Compose(e.rt, plan, e.trace)
	telemetry.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("engine %q: patch %s: %w", e.id, original.FullName(), err)
	}

	_, span = e.tracer.Start(ctx, "ilpatch.redirect", oteltrace.WithAttributes(telemetry.GenerationAttr(n)))
	from, to, err := e.redirect(original, replacement)
	telemetry.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("engine %q: patch %s: %w", e.id, original.FullName(), err)
	}

	g := &Generation{
		Number:      n,
		Original:    original,
		Replacement: replacement,
		From:        from,
		To:          to,
		Info:        info,
		Installed:   e.now(),
	}
	e.registry.Commit(g)
	e.log.Info("patched method",
		"method", original.FullName(),
		"prefixes", len(plan.Prefixes),
		"postfixes", len(plan.Postfixes),
		"transpilers", len(plan.Transpilers),
		"generation", n)
	e.record(ctx, g)
	return g, nil
}

func (e *Engine) redirect(original, replacement *cil.Method) (uint64, uint64, error) {
	from, err := e.rt.EntryAddress(original)
	if err != nil {
		return 0, 0, errors.WrapRedirection(err)
	}
	to, err := e.rt.EntryAddress(replacement)
	if err != nil {
		return 0, 0, errors.WrapRedirection(err)
	}
	if err := native.WriteJump(e.rt.Memory(), from, to, e.rt.PointerSize()); err != nil {
		return 0, 0, err
	}
	e.log.Debug("redirected entry", "from", fmt.Sprintf("0x%x", from), "to", fmt.Sprintf("0x%x", to))
	return from, to, nil
}

// record journals g. The patch is already live, so failures only warn.
func (e *Engine) record(ctx context.Context, g *Generation) {
	if e.recorder == nil {
		return
	}
	blob, err := MarshalSnapshot(&Snapshot{
		Format:  SnapshotFormat,
		Engine:  e.id,
		Version: Version,
		Methods: []MethodSnapshot{SnapshotOf(g.Original, g.Info)},
	})
	if err != nil {
		e.log.Warn("snapshot for journal failed", "error", err)
	}
	entry := journal.Entry{
		Engine:      e.id,
		Method:      g.Original.FullName(),
		Generation:  g.Number,
		Replacement: g.Replacement.Name,
		Prefixes:    len(g.Info.Prefixes),
		Postfixes:   len(g.Info.Postfixes),
		Transpilers: len(g.Info.Transpilers),
		Owners:      g.Info.Owners(),
		From:        g.From,
		To:          g.To,
		Snapshot:    blob,
		Timestamp:   g.Installed,
	}
	if err := e.recorder.Record(ctx, entry); err != nil {
		e.log.Warn("journal record failed", "method", entry.Method, "error", err)
	}
}

// PatchInfo returns a copy of original's patch set.
func (e *Engine) PatchInfo(original *cil.Method) (*PatchInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.registry.PatchInfo(original)
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

// PatchedMethods lists every original this engine has patched.
func (e *Engine) PatchedMethods() []*cil.Method {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Methods()
}

// Generations lists every replacement installed for original.
func (e *Engine) Generations(original *cil.Method) []*Generation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Generations(original)
}

// VersionInfo returns the engine version and, per owner, the newest engine
// version any of its registered hooks requires.
func (e *Engine) VersionInfo() (*version.Version, map[string]*version.Version) {
	e.mu.Lock()
	defer e.mu.Unlock()
	owners := map[string]*version.Version{}
	for _, m := range e.registry.Methods() {
		info, _ := e.registry.PatchInfo(m)
		for _, k := range kinds(KindAll) {
			for _, p := range *info.list(k) {
				if p.Hook.Requires == "" {
					continue
				}
				v, err := version.NewVersion(p.Hook.Requires)
				if err != nil {
					continue
				}
				if cur, ok := owners[p.Owner]; !ok || v.GreaterThan(cur) {
					owners[p.Owner] = v
				}
			}
		}
	}
	return engineVersion, owners
}

// Snapshot serializes every non-empty patch set.
func (e *Engine) Snapshot() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &Snapshot{Format: SnapshotFormat, Engine: e.id, Version: Version}
	for _, m := range e.registry.Methods() {
		info, _ := e.registry.PatchInfo(m)
		if info.Empty() {
			continue
		}
		s.Methods = append(s.Methods, SnapshotOf(m, info))
	}
	return MarshalSnapshot(s)
}

// Restore reinstalls the patch sets of a snapshot, replacing the current
// sets of the same originals. Originals and hooks are looked up in r.
// Every entry is resolved before anything is installed.
func (e *Engine) Restore(ctx context.Context, data []byte, r Resolver) ([]*Generation, error) {
	s, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}

	type pending struct {
		original *cil.Method
		info     *PatchInfo
	}
	var todo []pending
	for _, ms := range s.Methods {
		original, ok := r.Method(ms.Method)
		if !ok {
			return nil, fmt.Errorf("restore: original %q not found", ms.Method)
		}
		info, err := restoreInfo(ms, r)
		if err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		todo = append(todo, pending{original, info})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "ilpatch.restore", oteltrace.WithAttributes(attribute.Int("ilpatch.methods", len(todo))))
	out := make([]*Generation, 0, len(todo))
	for _, p := range todo {
		g, err := e.update(ctx, p.original, p.info)
		if err != nil {
			telemetry.End(span, err)
			return out, err
		}
		out = append(out, g)
	}
	telemetry.End(span, nil)
	return out, nil
}

// Close runs the teardown hooks, newest first. The engine rejects further
// patching; installed replacements stay in place.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.teardown.Run(ctx)
}
