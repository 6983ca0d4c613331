package hw

import (
	"fmt"

	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/model"
)

// InterfaceSpec is the hardware view of a routed interface.
type InterfaceSpec struct {
	VlanID model.VlanID
	MAC    sai.MAC
	MTU    uint32
}

// InterfaceSpecFrom derives the hardware spec of a configured interface.
func InterfaceSpecFrom(intf *model.Interface) (InterfaceSpec, error) {
	mac, err := sai.ParseMAC(intf.MAC())
	if err != nil {
		return InterfaceSpec{}, fmt.Errorf("interface %s: %w", intf.ID(), err)
	}
	return InterfaceSpec{VlanID: intf.VlanID(), MAC: mac, MTU: intf.MTU()}, nil
}

func (s InterfaceSpec) attributes() []sai.Attribute {
	return []sai.Attribute{
		{ID: sai.AttrRifVlanID, Value: sai.UintValue(uint64(s.VlanID))},
		{ID: sai.AttrRifSrcMAC, Value: sai.MACValue(s.MAC)},
		{ID: sai.AttrRifMTU, Value: sai.UintValue(uint64(s.MTU))},
	}
}

// InterfaceTable owns router interfaces keyed by interface id.
type InterfaceTable = Table[model.InterfaceID, InterfaceSpec]

// NewInterfaceTable returns an empty router-interface table.
func NewInterfaceTable(api sai.API, opts ...TableOption) *InterfaceTable {
	return NewTable[model.InterfaceID](
		"interfaces", api, sai.ObjectTypeRouterInterface, InterfaceSpec.attributes, opts...)
}
