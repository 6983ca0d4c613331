// Package memsai is an in-memory implementation of the Control API. It backs
// the agent's "fake" hardware mode and doubles as the test fake: every call is
// recorded and failures can be injected per operation, object type and
// attribute.
package memsai

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/switchagent/internal/sai"
)

// Call is one recorded Control API invocation.
type Call struct {
	Op    sai.Op
	Type  sai.ObjectType
	ID    sai.ObjectID
	Attrs []sai.Attribute
}

type faultKey struct {
	op   sai.Op
	t    sai.ObjectType
	attr sai.AttrID
}

type fault struct {
	status    sai.Status
	remaining int // 0 means until cleared
}

type object struct {
	t       sai.ObjectType
	name    string
	carrier bool
	attrs   map[sai.AttrID]sai.Value
}

// API is safe for concurrent use so tests can inspect it while an agent is
// running.
type API struct {
	mu      sync.Mutex
	next    map[sai.ObjectType]uint64
	objects map[sai.ObjectID]*object
	ports   map[string]sai.ObjectID
	calls   []Call
	faults  map[faultKey]*fault
	subs    map[int]sai.LinkEventFunc
	nextSub int
}

// New returns an empty switch with one port object per name.
func New(portNames ...string) *API {
	a := &API{
		next:    make(map[sai.ObjectType]uint64),
		objects: make(map[sai.ObjectID]*object),
		ports:   make(map[string]sai.ObjectID),
		faults:  make(map[faultKey]*fault),
		subs:    make(map[int]sai.LinkEventFunc),
	}
	for _, name := range portNames {
		a.AddPort(name)
	}
	return a
}

// AddPort creates a port object as hardware would at bring-up: admin down,
// default VLAN, carrier present. Adding an existing name returns its handle.
func (a *API) AddPort(name string) sai.ObjectID {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.ports[name]; ok {
		return id
	}
	id := a.allocLocked(sai.ObjectTypePort)
	a.objects[id] = &object{
		t:       sai.ObjectTypePort,
		name:    name,
		carrier: true,
		attrs: map[sai.AttrID]sai.Value{
			sai.AttrPortAdminState: sai.BoolValue(false),
			sai.AttrPortVlanID:     sai.UintValue(1),
			sai.AttrPortMTU:        sai.UintValue(9412),
		},
	}
	a.ports[name] = id
	return id
}

// PortByName implements sai.PortDirectory.
func (a *API) PortByName(name string) (sai.ObjectID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.ports[name]
	if !ok {
		return sai.NullObjectID, fmt.Errorf("port %q not present", name)
	}
	return id, nil
}

func (a *API) Create(t sai.ObjectType, attrs []sai.Attribute) (sai.ObjectID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, Call{Op: sai.OpCreate, Type: t, Attrs: slices.Clone(attrs)})
	if st, ok := a.faultLocked(sai.OpCreate, t, sai.AttrNone); ok {
		return sai.NullObjectID, &sai.StatusError{Op: sai.OpCreate, Object: t, Status: st}
	}
	if t == sai.ObjectTypePort || t == sai.ObjectTypeNull {
		return sai.NullObjectID, &sai.StatusError{Op: sai.OpCreate, Object: t, Status: sai.StatusNotSupported}
	}

	id := a.allocLocked(t)
	obj := &object{t: t, attrs: make(map[sai.AttrID]sai.Value, len(attrs))}
	for _, attr := range attrs {
		obj.attrs[attr.ID] = attr.Value
	}
	a.objects[id] = obj
	return id, nil
}

func (a *API) Set(id sai.ObjectID, attr sai.Attribute) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := sai.ObjectTypeOf(id)
	a.calls = append(a.calls, Call{Op: sai.OpSet, Type: t, ID: id, Attrs: []sai.Attribute{attr}})
	obj, ok := a.objects[id]
	if !ok {
		return &sai.StatusError{Op: sai.OpSet, Object: t, ID: id, Attr: attr.ID, Status: sai.StatusItemNotFound}
	}
	if st, ok := a.faultLocked(sai.OpSet, t, attr.ID); ok {
		return &sai.StatusError{Op: sai.OpSet, Object: t, ID: id, Attr: attr.ID, Status: st}
	}
	obj.attrs[attr.ID] = attr.Value
	return nil
}

func (a *API) Get(id sai.ObjectID, attr sai.AttrID) (sai.Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := sai.ObjectTypeOf(id)
	a.calls = append(a.calls, Call{Op: sai.OpGet, Type: t, ID: id, Attrs: []sai.Attribute{{ID: attr}}})
	obj, ok := a.objects[id]
	if !ok {
		return sai.Value{}, &sai.StatusError{Op: sai.OpGet, Object: t, ID: id, Attr: attr, Status: sai.StatusItemNotFound}
	}
	if st, ok := a.faultLocked(sai.OpGet, t, attr); ok {
		return sai.Value{}, &sai.StatusError{Op: sai.OpGet, Object: t, ID: id, Attr: attr, Status: st}
	}
	if attr == sai.AttrPortOperStatus && obj.t == sai.ObjectTypePort {
		return sai.BoolValue(obj.carrier && obj.attrs[sai.AttrPortAdminState].Bool), nil
	}
	return obj.attrs[attr], nil
}

func (a *API) Remove(id sai.ObjectID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := sai.ObjectTypeOf(id)
	a.calls = append(a.calls, Call{Op: sai.OpRemove, Type: t, ID: id})
	if _, ok := a.objects[id]; !ok {
		return &sai.StatusError{Op: sai.OpRemove, Object: t, ID: id, Status: sai.StatusItemNotFound}
	}
	if st, ok := a.faultLocked(sai.OpRemove, t, sai.AttrNone); ok {
		return &sai.StatusError{Op: sai.OpRemove, Object: t, ID: id, Status: st}
	}
	if t == sai.ObjectTypePort {
		return &sai.StatusError{Op: sai.OpRemove, Object: t, ID: id, Status: sai.StatusNotSupported}
	}
	delete(a.objects, id)
	return nil
}

// Fail makes every matching call return status until ClearFaults. Use
// sai.AttrNone for create and remove.
func (a *API) Fail(op sai.Op, t sai.ObjectType, attr sai.AttrID, status sai.Status) {
	a.FailTimes(op, t, attr, status, 0)
}

// FailTimes makes the next n matching calls return status.
func (a *API) FailTimes(op sai.Op, t sai.ObjectType, attr sai.AttrID, status sai.Status, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[faultKey{op: op, t: t, attr: attr}] = &fault{status: status, remaining: n}
}

// ClearFaults removes every injected failure.
func (a *API) ClearFaults() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults = make(map[faultKey]*fault)
}

// SetCarrier simulates a cable being plugged in or pulled on a port. The
// reported oper status is admin state AND carrier; subscribers are told
// when it changes.
func (a *API) SetCarrier(id sai.ObjectID, up bool) error {
	a.mu.Lock()
	obj, ok := a.objects[id]
	if !ok || obj.t != sai.ObjectTypePort {
		a.mu.Unlock()
		return fmt.Errorf("no port %s", id)
	}
	admin := obj.attrs[sai.AttrPortAdminState].Bool
	before := obj.carrier && admin
	obj.carrier = up
	after := obj.carrier && admin
	subs := make([]sai.LinkEventFunc, 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	if before != after {
		for _, fn := range subs {
			fn(id, after)
		}
	}
	return nil
}

// SubscribeLinkEvents implements sai.LinkEventSource. Events are delivered
// synchronously from SetCarrier. It returns once ctx is done.
func (a *API) SubscribeLinkEvents(ctx context.Context, fn sai.LinkEventFunc) error {
	a.mu.Lock()
	key := a.nextSub
	a.nextSub++
	a.subs[key] = fn
	a.mu.Unlock()

	<-ctx.Done()

	a.mu.Lock()
	delete(a.subs, key)
	a.mu.Unlock()
	return nil
}

// Subscribers returns the number of active link event subscriptions.
func (a *API) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// SetCounter overwrites a statistics attribute without recording a call.
func (a *API) SetCounter(id sai.ObjectID, attr sai.AttrID, v uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	obj, ok := a.objects[id]
	if !ok {
		return fmt.Errorf("no object %s", id)
	}
	obj.attrs[attr] = sai.UintValue(v)
	return nil
}

// Calls returns a copy of the call log.
func (a *API) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

// CountCalls counts recorded calls of op touching attr. AttrNone matches
// every attribute.
func (a *API) CountCalls(op sai.Op, attr sai.AttrID) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, c := range a.calls {
		if c.Op != op {
			continue
		}
		if attr == sai.AttrNone || slices.ContainsFunc(c.Attrs, func(x sai.Attribute) bool { return x.ID == attr }) {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (a *API) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

// Attribute reads an attribute directly, bypassing the call log.
func (a *API) Attribute(id sai.ObjectID, attr sai.AttrID) (sai.Value, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	obj, ok := a.objects[id]
	if !ok {
		return sai.Value{}, false
	}
	v, ok := obj.attrs[attr]
	return v, ok
}

// Exists reports whether id names a live object.
func (a *API) Exists(id sai.ObjectID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.objects[id]
	return ok
}

// Objects lists the live handles of type t in ascending order.
func (a *API) Objects(t sai.ObjectType) []sai.ObjectID {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []sai.ObjectID
	for id, obj := range a.objects {
		if obj.t == t {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (a *API) allocLocked(t sai.ObjectType) sai.ObjectID {
	a.next[t]++
	return sai.MakeObjectID(t, a.next[t])
}

func (a *API) faultLocked(op sai.Op, t sai.ObjectType, attr sai.AttrID) (sai.Status, bool) {
	key := faultKey{op: op, t: t, attr: attr}
	f, ok := a.faults[key]
	if !ok {
		return sai.StatusSuccess, false
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(a.faults, key)
		}
	}
	return f.status, true
}
