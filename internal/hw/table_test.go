package hw

import (
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/internal/sai/memsai"
	"github.com/signalsfoundry/switchagent/model"
)

type sizeRecorder map[string]int

func (s sizeRecorder) SetTableEntries(table string, n int) { s[table] = n }

func intfSpec(vlan model.VlanID) InterfaceSpec {
	return InterfaceSpec{VlanID: vlan, MAC: sai.MAC{0x02, 0, 0, 0, 0, byte(vlan)}, MTU: 1500}
}

// requireIndicesAgree checks that both indices report the same entries.
func requireIndicesAgree(t *testing.T, tbl *InterfaceTable, universe []model.InterfaceID) {
	t.Helper()
	for _, id := range universe {
		e, ok := tbl.Find(id)
		if !ok {
			continue
		}
		byHandle, ok := tbl.FindHandle(e.Handle())
		require.True(t, ok, "id %v present but handle %s missing", id, e.Handle())
		require.Same(t, e, byHandle)
	}
	count := 0
	for e := tbl.First(); e != nil; e = tbl.Next(e) {
		count++
		_, ok := tbl.FindHandle(e.Handle())
		require.True(t, ok)
	}
	require.Equal(t, tbl.Len(), count)
}

func TestTableIndicesAgreeUnderAddRemove(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	tbl := NewInterfaceTable(api)

	universe := make([]model.InterfaceID, 20)
	for i := range universe {
		universe[i] = model.InterfaceID(i + 1)
	}
	handles := map[model.InterfaceID]sai.ObjectID{}

	rng := rand.New(rand.NewSource(1))
	for step := 0; step < 200; step++ {
		id := universe[rng.Intn(len(universe))]
		if _, ok := tbl.Find(id); ok {
			require.NoError(t, tbl.Remove(ctx, id))
			_, ok := tbl.FindHandle(handles[id])
			require.False(t, ok, "handle of removed %v still indexed", id)
			delete(handles, id)
		} else {
			e, err := tbl.Add(ctx, id, intfSpec(model.VlanID(id)))
			require.NoError(t, err)
			handles[id] = e.Handle()
		}
		requireIndicesAgree(t, tbl, universe)
	}
	require.Len(t, api.Objects(sai.ObjectTypeRouterInterface), tbl.Len())
}

func TestTableAddDuplicateLeavesTableUnchanged(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	sizes := sizeRecorder{}
	tbl := NewInterfaceTable(api, WithSizeRecorder(sizes))

	first, err := tbl.Add(ctx, 1, intfSpec(10))
	require.NoError(t, err)
	creates := api.CountCalls(sai.OpCreate, sai.AttrNone)

	_, err = tbl.Add(ctx, 1, intfSpec(20))
	require.ErrorIs(t, err, ErrDuplicateResource)

	require.Equal(t, creates, api.CountCalls(sai.OpCreate, sai.AttrNone), "duplicate add reached hardware")
	require.Equal(t, 1, tbl.Len())
	require.Equal(t, 1, sizes["interfaces"])
	e, err := tbl.Lookup(1)
	require.NoError(t, err)
	require.Same(t, first, e)
	require.Equal(t, model.VlanID(10), e.Spec().VlanID)
}

func TestTableAddRejectedByHardware(t *testing.T) {
	api := memsai.New()
	tbl := NewAclTable(api)
	api.Fail(sai.OpCreate, sai.ObjectTypeAclEntry, sai.AttrNone, sai.StatusNoMemory)

	_, err := tbl.Add(context.Background(), 7, AclSpec{Action: model.AclActionDeny})
	require.ErrorIs(t, err, ErrHardwareRejected)

	var se *sai.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, sai.StatusNoMemory, se.Status)
	require.Zero(t, tbl.Len())
	require.Nil(t, tbl.First())
}

func TestTableProgramWritesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	tbl := NewAclTable(api)

	spec := AclSpec{SrcIP: netip.MustParsePrefix("10.0.0.0/24")}
	e, err := tbl.Add(ctx, 7, spec)
	require.NoError(t, err)

	api.ResetCalls()
	spec.Action = model.AclActionDeny
	require.NoError(t, tbl.Program(ctx, 7, spec))
	require.Equal(t, 1, api.CountCalls(sai.OpSet, sai.AttrNone))
	require.Equal(t, 1, api.CountCalls(sai.OpSet, sai.AttrAclAction))

	api.ResetCalls()
	require.NoError(t, tbl.Program(ctx, 7, spec))
	require.Zero(t, api.CountCalls(sai.OpSet, sai.AttrNone), "unchanged spec issued writes")

	v, ok := api.Attribute(e.Handle(), sai.AttrAclAction)
	require.True(t, ok)
	require.Equal(t, uint64(model.AclActionDeny), v.Uint)
	require.Equal(t, spec, e.Spec())
}

func TestTableProgramPartialFailureIsNotRolledBack(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	tbl := NewInterfaceTable(api)

	old := intfSpec(10)
	e, err := tbl.Add(ctx, 3, old)
	require.NoError(t, err)

	next := old
	next.VlanID = 20
	next.MTU = 9000
	api.FailTimes(sai.OpSet, sai.ObjectTypeRouterInterface, sai.AttrRifMTU, sai.StatusFailure, 1)

	err = tbl.Program(ctx, 3, next)
	require.ErrorIs(t, err, ErrHardwareRejected)

	// The VLAN write went through before the MTU write failed.
	vlan, _ := api.Attribute(e.Handle(), sai.AttrRifVlanID)
	require.Equal(t, uint64(20), vlan.Uint)
	applied, _ := e.Applied(sai.AttrRifVlanID)
	require.Equal(t, uint64(20), applied.Uint)
	require.Equal(t, old, e.Spec())

	api.ResetCalls()
	require.NoError(t, tbl.Program(ctx, 3, next))
	require.Equal(t, 1, api.CountCalls(sai.OpSet, sai.AttrNone), "retry should only rewrite the failed attribute")
	require.Equal(t, next, e.Spec())
}

func TestTableRemoveAndLookups(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	tbl := NewInterfaceTable(api)

	e, err := tbl.Add(ctx, 5, intfSpec(5))
	require.NoError(t, err)
	handle := e.Handle()

	require.NoError(t, tbl.Remove(ctx, 5))

	_, ok := tbl.Find(5)
	require.False(t, ok)
	_, ok = tbl.FindHandle(handle)
	require.False(t, ok)
	_, err = tbl.Lookup(5)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = tbl.LookupHandle(handle)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, tbl.Remove(ctx, 5), ErrNotFound)
	require.ErrorIs(t, tbl.Program(ctx, 5, intfSpec(5)), ErrNotFound)
	require.False(t, api.Exists(handle))
}

func TestTableRemoveRejectedKeepsEntry(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	tbl := NewInterfaceTable(api)

	e, err := tbl.Add(ctx, 1, intfSpec(1))
	require.NoError(t, err)
	api.Fail(sai.OpRemove, sai.ObjectTypeRouterInterface, sai.AttrNone, sai.StatusObjectInUse)

	require.ErrorIs(t, tbl.Remove(ctx, 1), ErrHardwareRejected)
	got, err := tbl.LookupHandle(e.Handle())
	require.NoError(t, err)
	require.Equal(t, model.InterfaceID(1), got.ID())
}

func TestTableTraversalIsOrderedAndRestartable(t *testing.T) {
	ctx := context.Background()
	tbl := NewInterfaceTable(memsai.New())
	for _, id := range []model.InterfaceID{30, 10, 50, 20, 40} {
		_, err := tbl.Add(ctx, id, intfSpec(model.VlanID(id)))
		require.NoError(t, err)
	}

	var seen []model.InterfaceID
	for e := tbl.First(); e != nil; e = tbl.Next(e) {
		seen = append(seen, e.ID())
	}
	require.Equal(t, []model.InterfaceID{10, 20, 30, 40, 50}, seen)
	require.Equal(t, seen, tbl.IDs())

	// Removing the current entry mid-walk resumes after its id.
	e, _ := tbl.Find(20)
	require.NoError(t, tbl.Remove(ctx, 20))
	next := tbl.Next(e)
	require.NotNil(t, next)
	require.Equal(t, model.InterfaceID(30), next.ID())

	last, _ := tbl.Find(50)
	require.Nil(t, tbl.Next(last))
}

func TestTableSlotsAreReused(t *testing.T) {
	ctx := context.Background()
	tbl := NewInterfaceTable(memsai.New())
	for id := model.InterfaceID(1); id <= 3; id++ {
		_, err := tbl.Add(ctx, id, intfSpec(model.VlanID(id)))
		require.NoError(t, err)
	}
	require.NoError(t, tbl.Remove(ctx, 2))
	_, err := tbl.Add(ctx, 4, intfSpec(4))
	require.NoError(t, err)
	require.Len(t, tbl.slots, 3)
}

func TestTableResyncRewritesDrift(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	tbl := NewInterfaceTable(api)

	e, err := tbl.Add(ctx, 1, intfSpec(10))
	require.NoError(t, err)

	n, err := tbl.Resync(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, n)

	// Something outside the agent changed the MTU.
	require.NoError(t, api.Set(e.Handle(), sai.Attribute{ID: sai.AttrRifMTU, Value: sai.UintValue(1400)}))

	n, err = tbl.Resync(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	v, _ := api.Attribute(e.Handle(), sai.AttrRifMTU)
	require.Equal(t, uint64(1500), v.Uint)

	_, err = tbl.Resync(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInterfaceSpecFrom(t *testing.T) {
	intf, err := model.InterfaceFromFields(model.InterfaceFields{ID: 2, VlanID: 20, MAC: "02:00:00:00:00:14", MTU: 9000})
	require.NoError(t, err)

	spec, err := InterfaceSpecFrom(intf)
	require.NoError(t, err)
	require.Equal(t, InterfaceSpec{VlanID: 20, MAC: sai.MAC{0x02, 0, 0, 0, 0, 0x14}, MTU: 9000}, spec)
}

func TestAclSpecPacksTCPFlags(t *testing.T) {
	entry := model.NewAclEntry(1).WithTCPFlags(0x12, 0x3f)
	attrs := AclSpecFrom(entry).attributes()

	var flags sai.Value
	for _, a := range attrs {
		if a.ID == sai.AttrAclTCPFlags {
			flags = a.Value
		}
	}
	require.Equal(t, uint64(0x3f12), flags.Uint)
}

func TestTableAdoptAndForget(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	handle, err := api.Create(sai.ObjectTypeRouterInterface, intfSpec(10).attributes())
	require.NoError(t, err)

	tbl := NewInterfaceTable(api)
	api.ResetCalls()
	e, err := tbl.Adopt(ctx, 1, handle, intfSpec(10))
	require.NoError(t, err)
	require.Empty(t, api.Calls(), "adopt must not touch hardware")

	got, err := tbl.LookupHandle(handle)
	require.NoError(t, err)
	require.Same(t, e, got)

	_, err = tbl.Adopt(ctx, 2, handle, intfSpec(10))
	require.ErrorIs(t, err, ErrDuplicateResource)

	n, err := tbl.Resync(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, tbl.Forget(ctx, 1))
	require.Zero(t, tbl.Len())
	require.True(t, api.Exists(handle), "forget must not remove the hardware object")
	require.ErrorIs(t, tbl.Forget(ctx, 1), ErrNotFound)
}

func TestTableAddUndoesCreateOnStaleHandleCollision(t *testing.T) {
	ctx := context.Background()
	api := memsai.New()
	tbl := NewInterfaceTable(api)

	// Adopted from a previous boot; the reset hardware hands the same
	// handle out again on the next create.
	stale := sai.MakeObjectID(sai.ObjectTypeRouterInterface, 1)
	_, err := tbl.Adopt(ctx, 2, stale, intfSpec(20))
	require.NoError(t, err)

	_, err = tbl.Add(ctx, 1, intfSpec(10))
	require.ErrorIs(t, err, ErrDuplicateResource)
	require.Empty(t, api.Objects(sai.ObjectTypeRouterInterface), "colliding object must be removed")
	require.Equal(t, 1, api.CountCalls(sai.OpRemove, sai.AttrNone))
	_, ok := tbl.Find(1)
	require.False(t, ok)
	owner, ok := tbl.FindHandle(stale)
	require.True(t, ok)
	require.Equal(t, model.InterfaceID(2), owner.ID())
	requireIndicesAgree(t, tbl, []model.InterfaceID{1, 2})

	// Reconciliation drops the stale entry and both ids come back.
	_, err = tbl.Resync(ctx, 2)
	require.Equal(t, sai.StatusItemNotFound, sai.StatusOf(err))
	require.NoError(t, tbl.Forget(ctx, 2))
	_, err = tbl.Add(ctx, 2, intfSpec(20))
	require.NoError(t, err)
	_, err = tbl.Add(ctx, 1, intfSpec(10))
	require.NoError(t, err)
	require.Len(t, api.Objects(sai.ObjectTypeRouterInterface), 2)
	requireIndicesAgree(t, tbl, []model.InterfaceID{1, 2})
}
