package model

import (
	"encoding/json"
	"fmt"
	"net"
)

// InterfaceFields is the structured form of an Interface.
type InterfaceFields struct {
	ID     InterfaceID `json:"id"`
	Name   string      `json:"name"`
	VlanID VlanID      `json:"vlanId"`
	MAC    string      `json:"mac"`
	MTU    uint32      `json:"mtu"`
}

// Interface is a routed interface bound to a VLAN. It is a leaf node.
type Interface struct {
	f InterfaceFields
}

func NewInterface(id InterfaceID, vlan VlanID) *Interface {
	return &Interface{f: InterfaceFields{ID: id, VlanID: vlan}}
}

// InterfaceFromFields rebuilds an interface from its structured form. The
// MAC address, when set, is normalised to lower-case colon notation.
func InterfaceFromFields(f InterfaceFields) (*Interface, error) {
	if f.MAC != "" {
		hw, err := net.ParseMAC(f.MAC)
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", f.ID, err)
		}
		f.MAC = hw.String()
	}
	return &Interface{f: f}, nil
}

func (i *Interface) Fields() InterfaceFields { return i.f }

func (i *Interface) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.f)
}

func (i *Interface) ID() InterfaceID { return i.f.ID }
func (i *Interface) Name() string    { return i.f.Name }
func (i *Interface) VlanID() VlanID  { return i.f.VlanID }
func (i *Interface) MAC() string     { return i.f.MAC }
func (i *Interface) MTU() uint32     { return i.f.MTU }

func (i *Interface) ForEachChild(func(Node) error) error { return nil }

func (i *Interface) Equal(o *Interface) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.f == o.f
}

func (i *Interface) WithName(name string) *Interface {
	c := *i
	c.f.Name = name
	return &c
}

func (i *Interface) WithVlanID(vlan VlanID) *Interface {
	c := *i
	c.f.VlanID = vlan
	return &c
}

// WithMAC returns a copy carrying hw as its source MAC address.
func (i *Interface) WithMAC(hw net.HardwareAddr) *Interface {
	c := *i
	c.f.MAC = hw.String()
	return &c
}

func (i *Interface) WithMTU(mtu uint32) *Interface {
	c := *i
	c.f.MTU = mtu
	return &c
}
