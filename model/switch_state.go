package model

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/samber/lo"
)

// SwitchState is the root of the configuration tree. Like every Node it is
// immutable: With*/Without* return a new root sharing unchanged children with
// the receiver, so a snapshot handed to a reader stays valid indefinitely.
type SwitchState struct {
	ports      map[PortID]*Port
	interfaces map[InterfaceID]*Interface
	acls       map[AclEntryID]*AclEntry
}

// NewSwitchState returns an empty root.
func NewSwitchState() *SwitchState {
	return &SwitchState{
		ports:      map[PortID]*Port{},
		interfaces: map[InterfaceID]*Interface{},
		acls:       map[AclEntryID]*AclEntry{},
	}
}

func (s *SwitchState) copy() *SwitchState {
	if s == nil {
		return NewSwitchState()
	}
	c := *s
	return &c
}

func (s *SwitchState) Port(id PortID) (*Port, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.ports[id]
	return p, ok
}

func (s *SwitchState) Interface(id InterfaceID) (*Interface, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.interfaces[id]
	return i, ok
}

func (s *SwitchState) AclEntry(id AclEntryID) (*AclEntry, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.acls[id]
	return e, ok
}

// Ports returns the configured ports in ascending id order.
func (s *SwitchState) Ports() []*Port {
	if s == nil {
		return nil
	}
	return sortedValues(s.ports)
}

// Interfaces returns the configured interfaces in ascending id order.
func (s *SwitchState) Interfaces() []*Interface {
	if s == nil {
		return nil
	}
	return sortedValues(s.interfaces)
}

// AclEntries returns the configured ACL entries in ascending id order.
func (s *SwitchState) AclEntries() []*AclEntry {
	if s == nil {
		return nil
	}
	return sortedValues(s.acls)
}

func (s *SwitchState) WithPort(p *Port) *SwitchState {
	c := s.copy()
	c.ports = withEntry(c.ports, p.ID(), p)
	return c
}

func (s *SwitchState) WithoutPort(id PortID) *SwitchState {
	c := s.copy()
	c.ports = withoutEntry(c.ports, id)
	return c
}

func (s *SwitchState) WithInterface(i *Interface) *SwitchState {
	c := s.copy()
	c.interfaces = withEntry(c.interfaces, i.ID(), i)
	return c
}

func (s *SwitchState) WithoutInterface(id InterfaceID) *SwitchState {
	c := s.copy()
	c.interfaces = withoutEntry(c.interfaces, id)
	return c
}

func (s *SwitchState) WithAclEntry(e *AclEntry) *SwitchState {
	c := s.copy()
	c.acls = withEntry(c.acls, e.ID(), e)
	return c
}

func (s *SwitchState) WithoutAclEntry(id AclEntryID) *SwitchState {
	c := s.copy()
	c.acls = withoutEntry(c.acls, id)
	return c
}

// ForEachChild visits ports, then interfaces, then ACL entries, each in
// ascending id order.
func (s *SwitchState) ForEachChild(fn func(Node) error) error {
	for _, p := range s.Ports() {
		if err := fn(p); err != nil {
			return err
		}
	}
	for _, i := range s.Interfaces() {
		if err := fn(i); err != nil {
			return err
		}
	}
	for _, e := range s.AclEntries() {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// SwitchStateFields is the structured form of a SwitchState, used for
// warm-restart persistence.
type SwitchStateFields struct {
	Ports      []PortFields      `json:"ports"`
	Interfaces []InterfaceFields `json:"interfaces"`
	Acls       []AclEntryFields  `json:"acls"`
}

func (s *SwitchState) Fields() SwitchStateFields {
	return SwitchStateFields{
		Ports:      lo.Map(s.Ports(), func(p *Port, _ int) PortFields { return p.Fields() }),
		Interfaces: lo.Map(s.Interfaces(), func(i *Interface, _ int) InterfaceFields { return i.Fields() }),
		Acls:       lo.Map(s.AclEntries(), func(e *AclEntry, _ int) AclEntryFields { return e.Fields() }),
	}
}

func (s *SwitchState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}

// SwitchStateFromFields rebuilds a root from its structured form. Duplicate
// ids within a kind are rejected.
func SwitchStateFromFields(f SwitchStateFields) (*SwitchState, error) {
	s := NewSwitchState()
	for _, pf := range f.Ports {
		if _, dup := s.ports[pf.ID]; dup {
			return nil, fmt.Errorf("duplicate port %d", pf.ID)
		}
		s.ports[pf.ID] = PortFromFields(pf)
	}
	for _, inf := range f.Interfaces {
		if _, dup := s.interfaces[inf.ID]; dup {
			return nil, fmt.Errorf("duplicate interface %d", inf.ID)
		}
		intf, err := InterfaceFromFields(inf)
		if err != nil {
			return nil, err
		}
		s.interfaces[inf.ID] = intf
	}
	for _, af := range f.Acls {
		if _, dup := s.acls[af.ID]; dup {
			return nil, fmt.Errorf("duplicate acl entry %d", af.ID)
		}
		s.acls[af.ID] = AclEntryFromFields(af)
	}
	return s, nil
}

// UnmarshalSwitchState decodes the JSON produced by SwitchState.MarshalJSON.
func UnmarshalSwitchState(data []byte) (*SwitchState, error) {
	var f SwitchStateFields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode switch state: %w", err)
	}
	return SwitchStateFromFields(f)
}

func withEntry[K comparable, V any](m map[K]V, k K, v V) map[K]V {
	out := make(map[K]V, len(m)+1)
	maps.Copy(out, m)
	out[k] = v
	return out
}

func withoutEntry[K comparable, V any](m map[K]V, k K) map[K]V {
	if _, ok := m[k]; !ok {
		return m
	}
	out := maps.Clone(m)
	delete(out, k)
	return out
}

func sortedValues[K cmp.Ordered, V any](m map[K]V) []V {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return lo.Map(keys, func(k K, _ int) V { return m[k] })
}
