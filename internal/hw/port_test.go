package hw

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/internal/sai/memsai"
	"github.com/signalsfoundry/switchagent/model"
)

type statusCall struct{ link, admin bool }

type fakePlatformPort struct {
	calls []statusCall
}

func (f *fakePlatformPort) LinkStatusChanged(linkUp, adminUp bool) {
	f.calls = append(f.calls, statusCall{linkUp, adminUp})
}

type mapSink map[string]uint64

func (m mapSink) SetPortStat(key string, v uint64) { m[key] = v }

func newTestPort(t *testing.T, opts ...PortOption) (*Port, *memsai.API, *fakePlatformPort) {
	t.Helper()
	api := memsai.New("eth1")
	handle, err := api.PortByName("eth1")
	require.NoError(t, err)
	pp := &fakePlatformPort{}
	return NewPort(api, 1, handle, pp, opts...), api, pp
}

func adminWrites(api *memsai.API) int { return api.CountCalls(sai.OpSet, sai.AttrPortAdminState) }
func vlanWrites(api *memsai.API) int  { return api.CountCalls(sai.OpSet, sai.AttrPortVlanID) }

func TestPortColdInit(t *testing.T) {
	p, api, pp := newTestPort(t)
	require.Equal(t, PortUninitialized, p.State())

	res := p.Init(context.Background(), false)
	require.True(t, res.OK())

	require.Equal(t, 1, vlanWrites(api))
	require.Equal(t, 1, adminWrites(api))
	require.Equal(t, PortDisabled, p.State())
	require.False(t, p.AdminUp())
	require.True(t, p.Initialized())
	require.Equal(t, []statusCall{{false, false}}, pp.calls)
}

func TestPortWarmInitSkipsVlan(t *testing.T) {
	p, api, _ := newTestPort(t)

	p.Init(context.Background(), true)

	require.Zero(t, vlanWrites(api))
	require.Equal(t, 1, adminWrites(api))
	require.Equal(t, PortDisabled, p.State())
}

func TestPortInitSwallowsVlanFailure(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "error", Output: &buf})
	p, api, _ := newTestPort(t, WithPortLogger(log), WithDefaultVlan(100))
	api.Fail(sai.OpSet, sai.ObjectTypePort, sai.AttrPortVlanID, sai.StatusInvalidParameter)

	res := p.Init(context.Background(), false)

	require.ErrorIs(t, res.Err(), ErrHardwareRejected)
	require.Equal(t, sai.AttrPortVlanID, res.Attr)
	require.Equal(t, PortDisabled, p.State())
	require.Equal(t, model.VlanID(100), p.IngressVlan())
	require.Contains(t, buf.String(), "failed to program ingress vlan during init")
	require.Contains(t, buf.String(), "port_id=1")
}

func TestPortInitKeepsBothFailures(t *testing.T) {
	p, api, _ := newTestPort(t)
	api.Fail(sai.OpSet, sai.ObjectTypePort, sai.AttrPortVlanID, sai.StatusInvalidParameter)
	api.Fail(sai.OpSet, sai.ObjectTypePort, sai.AttrPortAdminState, sai.StatusFailure)

	res := p.Init(context.Background(), false)

	require.Equal(t, sai.AttrPortVlanID, res.Attr)
	errs := multierr.Errors(res.Err())
	require.Len(t, errs, 2)
	require.Equal(t, sai.StatusInvalidParameter, sai.StatusOf(errs[0]))
	require.Equal(t, sai.StatusFailure, sai.StatusOf(errs[1]))
	require.Equal(t, PortDisabled, p.State())
}

func TestPortEnableAfterInit(t *testing.T) {
	ctx := context.Background()
	p, api, pp := newTestPort(t)
	p.Init(ctx, false)
	api.ResetCalls()

	res := p.Enable(ctx)
	require.True(t, res.OK())
	require.True(t, res.Written())
	require.Equal(t, 1, adminWrites(api))
	require.Equal(t, PortEnabled, p.State())

	v, _ := api.Attribute(p.Handle(), sai.AttrPortAdminState)
	require.True(t, v.Bool)

	res = p.Enable(ctx)
	require.False(t, res.Written())
	require.Equal(t, 1, adminWrites(api), "second enable reached hardware")

	require.Equal(t, statusCall{true, true}, pp.calls[len(pp.calls)-1])
}

func TestPortDisableEnableWriteOnceEach(t *testing.T) {
	ctx := context.Background()
	p, api, _ := newTestPort(t)
	p.Init(ctx, false)
	p.Enable(ctx)
	api.ResetCalls()

	p.Disable(ctx)
	require.Equal(t, 1, adminWrites(api))
	p.Enable(ctx)
	require.Equal(t, 2, adminWrites(api))
}

func TestPortEnableFailureStillAdvancesState(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "error", Output: &buf})
	p, api, _ := newTestPort(t, WithPortLogger(log))
	p.Init(ctx, false)

	api.FailTimes(sai.OpSet, sai.ObjectTypePort, sai.AttrPortAdminState, sai.StatusFailure, 1)
	res := p.Enable(ctx)

	require.False(t, res.OK())
	require.ErrorIs(t, res.Err(), ErrHardwareRejected)
	require.True(t, p.AdminUp(), "tracked admin state should advance despite the failure")
	require.Equal(t, PortEnabled, p.State())
	require.True(t, strings.Contains(buf.String(), "failed to set port admin state"))

	v, _ := api.Attribute(p.Handle(), sai.AttrPortAdminState)
	require.False(t, v.Bool, "hardware should still be down")

	// Reconciliation notices and re-drives the write.
	api.ResetCalls()
	res = p.Reconcile(ctx)
	require.True(t, res.OK())
	require.True(t, res.Written())
	v, _ = api.Attribute(p.Handle(), sai.AttrPortAdminState)
	require.True(t, v.Bool)

	res = p.Reconcile(ctx)
	require.False(t, res.Written())
	require.Equal(t, 1, adminWrites(api))
}

func TestPortSetIngressVlan(t *testing.T) {
	ctx := context.Background()
	p, api, _ := newTestPort(t)
	p.Init(ctx, false)
	api.ResetCalls()

	require.NoError(t, p.SetIngressVlan(ctx, model.DefaultVlan))
	require.Zero(t, vlanWrites(api))

	require.NoError(t, p.SetIngressVlan(ctx, 20))
	require.Equal(t, 1, vlanWrites(api))
	require.Equal(t, model.VlanID(20), p.IngressVlan())

	api.FailTimes(sai.OpSet, sai.ObjectTypePort, sai.AttrPortVlanID, sai.StatusFailure, 1)
	err := p.SetIngressVlan(ctx, 30)
	require.ErrorIs(t, err, ErrHardwareRejected)
	require.Equal(t, model.VlanID(20), p.IngressVlan(), "failed write must not move tracked vlan")
}

func TestPortSetPortStatus(t *testing.T) {
	ctx := context.Background()
	p, _, pp := newTestPort(t)
	p.Init(ctx, false)
	p.Enable(ctx)
	pp.calls = nil

	p.SetPortStatus(ctx, true)
	require.Empty(t, pp.calls, "repeated status must not notify")

	p.SetPortStatus(ctx, false)
	p.SetPortStatus(ctx, false)
	require.Equal(t, []statusCall{{false, true}}, pp.calls)
	require.False(t, p.LinkUp())
}

func TestPortStatsUseStatName(t *testing.T) {
	p, api, _ := newTestPort(t)
	require.Equal(t, "port1.in_bytes", p.StatName("in_bytes"))
	require.Equal(t, "port42.out_errors", StatName(42, "out_errors"))

	require.NoError(t, api.SetCounter(p.Handle(), sai.AttrPortStatInOctets, 1234))
	sink := mapSink{}
	require.NoError(t, p.UpdateStats(sink))
	require.Equal(t, uint64(1234), sink["port1.in_bytes"])
	require.Len(t, sink, 4)

	api.Fail(sai.OpGet, sai.ObjectTypePort, sai.AttrPortStatOutErrors, sai.StatusNotSupported)
	sink = mapSink{}
	err := p.UpdateStats(sink)
	require.ErrorIs(t, err, ErrHardwareRejected)
	require.Len(t, sink, 3)
}
