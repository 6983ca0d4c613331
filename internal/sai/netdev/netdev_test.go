package netdev

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

type vlanCall struct {
	op  string
	vid uint16
}

type fakeBridge struct {
	calls  []vlanCall
	addErr error
}

func (f *fakeBridge) BridgeVlanAdd(_ netlink.Link, vid uint16, pvid, untagged, _, master bool) error {
	if !pvid || !untagged || !master {
		return errors.New("pvid add must be untagged on the bridge master")
	}
	f.calls = append(f.calls, vlanCall{"add", vid})
	return f.addErr
}

func (f *fakeBridge) BridgeVlanDel(_ netlink.Link, vid uint16, _, _, _, _ bool) error {
	f.calls = append(f.calls, vlanCall{"del", vid})
	return nil
}

func bridgePort() netlink.Link {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: "eth1", MasterIndex: 3}}
}

func TestSetPVIDDropsPreviousVlan(t *testing.T) {
	b := &fakeBridge{}
	require.NoError(t, setPVID(b, bridgePort(), 1, 20))
	require.Equal(t, []vlanCall{{"add", 20}, {"del", 1}}, b.calls)
}

func TestSetPVIDWithoutPreviousVlan(t *testing.T) {
	for _, prev := range []uint16{0, 20} {
		b := &fakeBridge{}
		require.NoError(t, setPVID(b, bridgePort(), prev, 20))
		require.Equal(t, []vlanCall{{"add", 20}}, b.calls, "prev=%d", prev)
	}
}

func TestSetPVIDKeepsOldVlanWhenAddFails(t *testing.T) {
	b := &fakeBridge{addErr: errors.New("operation not permitted")}
	require.Error(t, setPVID(b, bridgePort(), 1, 20))
	require.Equal(t, []vlanCall{{"add", 20}}, b.calls)
}
