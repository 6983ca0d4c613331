package sai

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

func TestObjectIDCarriesType(t *testing.T) {
	for _, typ := range []ObjectType{ObjectTypePort, ObjectTypeRouterInterface, ObjectTypeAclEntry} {
		id := MakeObjectID(typ, 42)
		if got := ObjectTypeOf(id); got != typ {
			t.Fatalf("ObjectTypeOf(%s) = %s, want %s", id, got, typ)
		}
	}
	if got := ObjectTypeOf(NullObjectID); got != ObjectTypeNull {
		t.Fatalf("ObjectTypeOf(null) = %s, want null", got)
	}
}

func TestStatusOf(t *testing.T) {
	se := &StatusError{Op: OpSet, Object: ObjectTypePort, Attr: AttrPortAdminState, Status: StatusNoMemory}
	cases := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"status error", se, StatusNoMemory},
		{"wrapped", fmt.Errorf("ctx: %w", se), StatusNoMemory},
		{"foreign", errors.New("boom"), StatusFailure},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.err); got != tc.want {
			t.Fatalf("%s: StatusOf = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseMAC(t *testing.T) {
	m, err := ParseMAC("02:00:00:AA:bb:01")
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	if got := m.String(); got != "02:00:00:aa:bb:01" {
		t.Fatalf("MAC.String() = %q", got)
	}
	if _, err := ParseMAC("00:00:00:00:fe:80:00:00:00:00:00:00:00:00:00:00:00:00:00:00"); err == nil {
		t.Fatalf("ParseMAC accepted a 20-byte address")
	}
	if m, err := ParseMAC(""); err != nil || m != (MAC{}) {
		t.Fatalf("ParseMAC(\"\") = %v, %v; want zero", m, err)
	}
}

func TestValuesCompareByContent(t *testing.T) {
	a := PrefixValue(netip.MustParsePrefix("10.0.0.0/24"))
	b := PrefixValue(netip.MustParsePrefix("10.0.0.0/24"))
	if a != b {
		t.Fatalf("equal prefixes compare unequal")
	}
	if UintValue(1) == UintValue(2) {
		t.Fatalf("distinct uints compare equal")
	}
}

type countingObserver struct {
	calls map[Op]int
	last  Status
}

func (c *countingObserver) ObserveCall(op Op, _ ObjectType, st Status) {
	c.calls[op]++
	c.last = st
}

type stubAPI struct{ err error }

func (s stubAPI) Create(ObjectType, []Attribute) (ObjectID, error) {
	return MakeObjectID(ObjectTypeAclEntry, 1), s.err
}
func (s stubAPI) Set(ObjectID, Attribute) error       { return s.err }
func (s stubAPI) Get(ObjectID, AttrID) (Value, error) { return Value{}, s.err }
func (s stubAPI) Remove(ObjectID) error               { return s.err }

func TestInstrumentReportsEveryCall(t *testing.T) {
	obs := &countingObserver{calls: map[Op]int{}}
	api := Instrument(stubAPI{err: &StatusError{Status: StatusItemNotFound}}, obs)

	id, _ := api.Create(ObjectTypeAclEntry, nil)
	_ = api.Set(id, Attribute{ID: AttrAclAction})
	_, _ = api.Get(id, AttrAclAction)
	_ = api.Remove(id)

	for _, op := range []Op{OpCreate, OpSet, OpGet, OpRemove} {
		if obs.calls[op] != 1 {
			t.Fatalf("observer saw %d %s calls, want 1", obs.calls[op], op)
		}
	}
	if obs.last != StatusItemNotFound {
		t.Fatalf("last status = %s, want ITEM_NOT_FOUND", obs.last)
	}

	if got := Instrument(stubAPI{}, nil); got != (stubAPI{}) {
		t.Fatalf("Instrument with nil observer should return api unchanged")
	}
}
