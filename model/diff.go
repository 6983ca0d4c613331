package model

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
)

// ChangeKind classifies one entry of a Delta.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change describes how one node differs between two roots. Old is nil for
// additions and New is nil for removals.
type Change[T any] struct {
	Kind ChangeKind
	Old  T
	New  T
}

// Delta lists the per-kind differences between two SwitchState roots, each
// slice in ascending id order.
type Delta struct {
	Ports      []Change[*Port]
	Interfaces []Change[*Interface]
	Acls       []Change[*AclEntry]
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Ports) == 0 && len(d.Interfaces) == 0 && len(d.Acls) == 0
}

// DiffSwitchState compares two roots. Either may be nil, which is treated
// as an empty configuration.
func DiffSwitchState(oldState, newState *SwitchState) Delta {
	oldState = orEmpty(oldState)
	newState = orEmpty(newState)
	return Delta{
		Ports:      diffMaps(oldState.ports, newState.ports),
		Interfaces: diffMaps(oldState.interfaces, newState.interfaces),
		Acls:       diffMaps(oldState.acls, newState.acls),
	}
}

func orEmpty(s *SwitchState) *SwitchState {
	if s == nil {
		return NewSwitchState()
	}
	return s
}

type equaler[T any] interface {
	Equal(T) bool
}

func diffMaps[K cmp.Ordered, V equaler[V]](oldMap, newMap map[K]V) []Change[V] {
	keys := lo.Uniq(append(lo.Keys(oldMap), lo.Keys(newMap)...))
	slices.Sort(keys)

	var out []Change[V]
	for _, k := range keys {
		o, inOld := oldMap[k]
		n, inNew := newMap[k]
		switch {
		case !inOld:
			out = append(out, Change[V]{Kind: ChangeAdded, New: n})
		case !inNew:
			out = append(out, Change[V]{Kind: ChangeRemoved, Old: o})
		case !o.Equal(n):
			out = append(out, Change[V]{Kind: ChangeModified, Old: o, New: n})
		}
	}
	return out
}
