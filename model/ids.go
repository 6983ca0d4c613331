package model

import "fmt"

// PortID identifies a physical front-panel port. It is stable for the
// lifetime of the agent process.
type PortID uint32

// InterfaceID identifies a routed interface.
type InterfaceID uint32

// AclEntryID identifies an access-control entry.
type AclEntryID uint32

// VlanID is an 802.1Q VLAN identifier.
type VlanID uint16

// DefaultVlan is the VLAN every port is placed in during cold-boot
// initialisation.
const DefaultVlan VlanID = 1

// Valid reports whether v is a usable 802.1Q VLAN identifier.
func (v VlanID) Valid() bool {
	return v >= 1 && v <= 4094
}

func (id PortID) String() string      { return fmt.Sprintf("port%d", uint32(id)) }
func (id InterfaceID) String() string { return fmt.Sprintf("intf%d", uint32(id)) }
func (id AclEntryID) String() string  { return fmt.Sprintf("acl%d", uint32(id)) }
