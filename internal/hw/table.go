package hw

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/google/btree"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/sai"
)

// Entry owns exactly one hardware resource. Entries returned by a Table stay
// valid until the table removes them; callers must not hold them across an
// unlock of the switch lock.
type Entry[ID cmp.Ordered, S any] struct {
	id      ID
	handle  sai.ObjectID
	spec    S
	applied map[sai.AttrID]sai.Value
}

func (e *Entry[ID, S]) ID() ID               { return e.id }
func (e *Entry[ID, S]) Handle() sai.ObjectID { return e.handle }
func (e *Entry[ID, S]) Spec() S              { return e.spec }

// Applied returns the value last written for attr.
func (e *Entry[ID, S]) Applied(attr sai.AttrID) (sai.Value, bool) {
	v, ok := e.applied[attr]
	return v, ok
}

// SizeRecorder receives the entry count after every add and remove.
type SizeRecorder interface {
	SetTableEntries(table string, n int)
}

// TableOption customises Table construction.
type TableOption func(*tableOptions)

type tableOptions struct {
	log   logging.Logger
	sizes SizeRecorder
}

// WithTableLogger attaches a logger for table mutations.
func WithTableLogger(l logging.Logger) TableOption {
	return func(o *tableOptions) {
		o.log = l
	}
}

// WithSizeRecorder attaches an entry-count gauge.
func WithSizeRecorder(r SizeRecorder) TableOption {
	return func(o *tableOptions) {
		o.sizes = r
	}
}

// Table owns the hardware resources of one object type. Entries live in an
// arena of slots; the logical-id index owns the slot and the handle index
// aliases it. Both indices are updated together or not at all.
//
// Table performs no locking; see the package documentation.
type Table[ID cmp.Ordered, S any] struct {
	name    string
	api     sai.API
	objType sai.ObjectType
	attrs   func(S) []sai.Attribute

	slots    []*Entry[ID, S]
	free     []int
	byID     map[ID]int
	byHandle map[sai.ObjectID]int
	order    *btree.BTreeG[ID]

	log   logging.Logger
	sizes SizeRecorder
}

// NewTable returns an empty table creating objects of type t. attrs maps a
// spec to its full attribute list; it must return the same attribute ids,
// in the same order, for every spec.
func NewTable[ID cmp.Ordered, S any](name string, api sai.API, t sai.ObjectType, attrs func(S) []sai.Attribute, opts ...TableOption) *Table[ID, S] {
	o := tableOptions{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Table[ID, S]{
		name:     name,
		api:      api,
		objType:  t,
		attrs:    attrs,
		byID:     make(map[ID]int),
		byHandle: make(map[sai.ObjectID]int),
		order:    btree.NewG(32, cmp.Less[ID]),
		log:      o.log.With(logging.String("table", name)),
		sizes:    o.sizes,
	}
}

// Name identifies the table in logs and metrics.
func (t *Table[ID, S]) Name() string { return t.name }

// Len returns the number of live entries.
func (t *Table[ID, S]) Len() int { return len(t.byID) }

// Add creates the hardware resource for id and registers it under both
// indices. On any error the table is unchanged.
func (t *Table[ID, S]) Add(ctx context.Context, id ID, spec S) (*Entry[ID, S], error) {
	if _, ok := t.byID[id]; ok {
		return nil, fmt.Errorf("%w: %s %v", ErrDuplicateResource, t.name, id)
	}

	attrs := t.attrs(spec)
	handle, err := t.api.Create(t.objType, attrs)
	if err != nil {
		return nil, rejected(fmt.Sprintf("create %s %v", t.name, id), err)
	}
	if owner, ok := t.byHandle[handle]; ok {
		// The indexed entry holds a stale handle that hardware has reissued.
		// Undo the create so the object does not carry this id's attributes
		// under another id's entry.
		err := fmt.Errorf("%w: %s %v: handle %s already indexed by %v",
			ErrDuplicateResource, t.name, id, handle, t.slots[owner].id)
		if rerr := t.api.Remove(handle); rerr != nil {
			t.log.Error(ctx, "failed to remove hardware object with colliding handle",
				logging.Any("id", id),
				logging.String("handle", handle.String()),
				logging.Err(rerr),
			)
			err = multierr.Append(err, rejected(fmt.Sprintf("remove %s %v", t.name, id), rerr))
		}
		return nil, err
	}

	e := &Entry[ID, S]{
		id:      id,
		handle:  handle,
		spec:    spec,
		applied: make(map[sai.AttrID]sai.Value, len(attrs)),
	}
	for _, a := range attrs {
		e.applied[a.ID] = a.Value
	}

	t.insert(e)

	t.log.Debug(ctx, "hardware object added",
		logging.Any("id", id),
		logging.String("handle", handle.String()),
	)
	t.recordSize()
	return e, nil
}

// Adopt registers a resource that already exists in hardware, such as one
// restored from warm-boot state, without issuing a create. spec is taken as
// applied; Resync verifies it against hardware.
func (t *Table[ID, S]) Adopt(ctx context.Context, id ID, handle sai.ObjectID, spec S) (*Entry[ID, S], error) {
	if _, ok := t.byID[id]; ok {
		return nil, fmt.Errorf("%w: %s %v", ErrDuplicateResource, t.name, id)
	}
	if _, ok := t.byHandle[handle]; ok {
		return nil, fmt.Errorf("%w: %s %v: handle %s already indexed", ErrDuplicateResource, t.name, id, handle)
	}
	attrs := t.attrs(spec)
	e := &Entry[ID, S]{
		id:      id,
		handle:  handle,
		spec:    spec,
		applied: make(map[sai.AttrID]sai.Value, len(attrs)),
	}
	for _, a := range attrs {
		e.applied[a.ID] = a.Value
	}
	t.insert(e)

	t.log.Debug(ctx, "hardware object adopted",
		logging.Any("id", id),
		logging.String("handle", handle.String()),
	)
	t.recordSize()
	return e, nil
}

// Forget drops id from both indices without touching hardware. It is used
// when hardware has already lost the resource.
func (t *Table[ID, S]) Forget(ctx context.Context, id ID) error {
	slot, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s %v", ErrNotFound, t.name, id)
	}
	e := t.slots[slot]
	t.drop(slot, e)
	t.log.Debug(ctx, "hardware object forgotten",
		logging.Any("id", id),
		logging.String("handle", e.handle.String()),
	)
	t.recordSize()
	return nil
}

// Program brings the resource for id in line with spec, writing only the
// attributes whose value differs from the last applied one. An unchanged
// spec issues no writes.
//
// The first failed write aborts with ErrHardwareRejected. Writes that
// succeeded before it are kept and recorded as applied; the stored spec is
// only replaced when every write succeeds.
func (t *Table[ID, S]) Program(ctx context.Context, id ID, spec S) error {
	slot, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s %v", ErrNotFound, t.name, id)
	}
	e := t.slots[slot]

	want := t.attrs(spec)
	writes := 0
	for _, a := range want {
		if cur, ok := e.applied[a.ID]; ok && cur == a.Value {
			continue
		}
		if err := t.api.Set(e.handle, a); err != nil {
			return rejected(fmt.Sprintf("program %s %v %s", t.name, id, a.ID), err)
		}
		e.applied[a.ID] = a.Value
		writes++
	}

	// Attributes that dropped out of the spec go back to their default.
	for _, attr := range t.staleAttrs(e, want) {
		if e.applied[attr] != (sai.Value{}) {
			if err := t.api.Set(e.handle, sai.Attribute{ID: attr}); err != nil {
				return rejected(fmt.Sprintf("program %s %v %s", t.name, id, attr), err)
			}
			writes++
		}
		delete(e.applied, attr)
	}

	e.spec = spec
	if writes > 0 {
		t.log.Debug(ctx, "hardware object programmed",
			logging.Any("id", id),
			logging.String("handle", e.handle.String()),
			logging.Int("writes", writes),
		)
	}
	return nil
}

// Remove destroys the resource for id and drops it from both indices. If the
// Control API refuses, the entry stays registered.
func (t *Table[ID, S]) Remove(ctx context.Context, id ID) error {
	slot, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s %v", ErrNotFound, t.name, id)
	}
	e := t.slots[slot]

	if err := t.api.Remove(e.handle); err != nil {
		return rejected(fmt.Sprintf("remove %s %v", t.name, id), err)
	}

	t.drop(slot, e)

	t.log.Debug(ctx, "hardware object removed",
		logging.Any("id", id),
		logging.String("handle", e.handle.String()),
	)
	t.recordSize()
	return nil
}

// Resync reads back every applied attribute of id and rewrites those the
// hardware no longer agrees with. It returns the number of rewrites.
func (t *Table[ID, S]) Resync(ctx context.Context, id ID) (int, error) {
	e, err := t.Lookup(id)
	if err != nil {
		return 0, err
	}

	attrs := make([]sai.AttrID, 0, len(e.applied))
	for a := range e.applied {
		attrs = append(attrs, a)
	}
	slices.Sort(attrs)

	rewrites := 0
	for _, a := range attrs {
		want := e.applied[a]
		got, err := t.api.Get(e.handle, a)
		if err != nil {
			return rewrites, rejected(fmt.Sprintf("read %s %v %s", t.name, id, a), err)
		}
		if got == want {
			continue
		}
		if err := t.api.Set(e.handle, sai.Attribute{ID: a, Value: want}); err != nil {
			return rewrites, rejected(fmt.Sprintf("resync %s %v %s", t.name, id, a), err)
		}
		rewrites++
	}
	if rewrites > 0 {
		t.log.Info(ctx, "hardware object drifted, rewrote attributes",
			logging.Any("id", id),
			logging.Int("writes", rewrites),
		)
	}
	return rewrites, nil
}

// Lookup returns the entry for id or ErrNotFound.
func (t *Table[ID, S]) Lookup(id ID) (*Entry[ID, S], error) {
	e, ok := t.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, t.name, id)
	}
	return e, nil
}

// LookupHandle returns the entry owning handle or ErrNotFound.
func (t *Table[ID, S]) LookupHandle(handle sai.ObjectID) (*Entry[ID, S], error) {
	e, ok := t.FindHandle(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s handle %s", ErrNotFound, t.name, handle)
	}
	return e, nil
}

// Find is the non-failing form of Lookup.
func (t *Table[ID, S]) Find(id ID) (*Entry[ID, S], bool) {
	slot, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return t.slots[slot], true
}

// FindHandle is the non-failing form of LookupHandle.
func (t *Table[ID, S]) FindHandle(handle sai.ObjectID) (*Entry[ID, S], bool) {
	slot, ok := t.byHandle[handle]
	if !ok {
		return nil, false
	}
	return t.slots[slot], true
}

// First returns the entry with the lowest logical id, or nil.
func (t *Table[ID, S]) First() *Entry[ID, S] {
	id, ok := t.order.Min()
	if !ok {
		return nil
	}
	e, _ := t.Find(id)
	return e
}

// Next returns the entry following prev in ascending id order, or nil at
// the end. prev may already have been removed; traversal resumes after its
// id.
func (t *Table[ID, S]) Next(prev *Entry[ID, S]) *Entry[ID, S] {
	if prev == nil {
		return nil
	}
	var next *Entry[ID, S]
	t.order.AscendGreaterOrEqual(prev.id, func(id ID) bool {
		if id == prev.id {
			return true
		}
		next, _ = t.Find(id)
		return false
	})
	return next
}

// IDs returns every logical id in ascending order.
func (t *Table[ID, S]) IDs() []ID {
	ids := make([]ID, 0, t.order.Len())
	t.order.Ascend(func(id ID) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (t *Table[ID, S]) insert(e *Entry[ID, S]) {
	slot := t.allocSlot(e)
	t.byID[e.id] = slot
	t.byHandle[e.handle] = slot
	t.order.ReplaceOrInsert(e.id)
}

func (t *Table[ID, S]) drop(slot int, e *Entry[ID, S]) {
	delete(t.byID, e.id)
	delete(t.byHandle, e.handle)
	t.order.Delete(e.id)
	t.slots[slot] = nil
	t.free = append(t.free, slot)
}

func (t *Table[ID, S]) allocSlot(e *Entry[ID, S]) int {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[slot] = e
		return slot
	}
	t.slots = append(t.slots, e)
	return len(t.slots) - 1
}

func (t *Table[ID, S]) staleAttrs(e *Entry[ID, S], want []sai.Attribute) []sai.AttrID {
	var stale []sai.AttrID
	for a := range e.applied {
		if !slices.ContainsFunc(want, func(w sai.Attribute) bool { return w.ID == a }) {
			stale = append(stale, a)
		}
	}
	slices.Sort(stale)
	return stale
}

func (t *Table[ID, S]) recordSize() {
	if t.sizes != nil {
		t.sizes.SetTableEntries(t.name, len(t.byID))
	}
}
