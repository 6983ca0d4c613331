// Package sai describes the vendor-neutral switch ASIC control API consumed
// by the agent: object types, attribute identifiers and values, status codes,
// and the synchronous API surface itself.
package sai

import (
	"fmt"
	"net"
	"net/netip"
)

// ObjectType is the kind of hardware resource an ObjectID refers to.
type ObjectType uint8

const (
	ObjectTypeNull ObjectType = iota
	ObjectTypePort
	ObjectTypeRouterInterface
	ObjectTypeAclEntry
)

func (t ObjectType) String() string {
	switch t {
	case ObjectTypeNull:
		return "null"
	case ObjectTypePort:
		return "port"
	case ObjectTypeRouterInterface:
		return "router_interface"
	case ObjectTypeAclEntry:
		return "acl_entry"
	default:
		return fmt.Sprintf("object_type_%d", uint8(t))
	}
}

// ObjectID is the opaque handle hardware assigns on creation. Like SAI, the
// object type lives in the top byte so any handle can be classified without
// a lookup.
type ObjectID uint64

// NullObjectID never names a live resource.
const NullObjectID ObjectID = 0

const objectTypeShift = 56

// MakeObjectID composes a handle from a type and a backend-chosen index.
func MakeObjectID(t ObjectType, index uint64) ObjectID {
	return ObjectID(uint64(t)<<objectTypeShift | index&(1<<objectTypeShift-1))
}

// ObjectTypeOf extracts the object type encoded in id.
func ObjectTypeOf(id ObjectID) ObjectType {
	return ObjectType(uint64(id) >> objectTypeShift)
}

func (id ObjectID) String() string {
	return fmt.Sprintf("oid:0x%x", uint64(id))
}

// AttrID identifies one attribute of a hardware object.
type AttrID uint16

const (
	AttrNone AttrID = iota

	// Port attributes.
	AttrPortAdminState
	AttrPortVlanID
	AttrPortMTU
	AttrPortOperStatus
	AttrPortStatInOctets
	AttrPortStatOutOctets
	AttrPortStatInErrors
	AttrPortStatOutErrors

	// Router interface attributes.
	AttrRifVlanID
	AttrRifSrcMAC
	AttrRifMTU

	// ACL entry attributes.
	AttrAclSrcIP
	AttrAclDstIP
	AttrAclL4SrcPort
	AttrAclL4DstPort
	AttrAclIPProtocol
	AttrAclTCPFlags
	AttrAclAction
)

var attrNames = map[AttrID]string{
	AttrNone:              "none",
	AttrPortAdminState:    "port_admin_state",
	AttrPortVlanID:        "port_vlan_id",
	AttrPortMTU:           "port_mtu",
	AttrPortOperStatus:    "port_oper_status",
	AttrPortStatInOctets:  "port_stat_in_octets",
	AttrPortStatOutOctets: "port_stat_out_octets",
	AttrPortStatInErrors:  "port_stat_in_errors",
	AttrPortStatOutErrors: "port_stat_out_errors",
	AttrRifVlanID:         "rif_vlan_id",
	AttrRifSrcMAC:         "rif_src_mac",
	AttrRifMTU:            "rif_mtu",
	AttrAclSrcIP:          "acl_src_ip",
	AttrAclDstIP:          "acl_dst_ip",
	AttrAclL4SrcPort:      "acl_l4_src_port",
	AttrAclL4DstPort:      "acl_l4_dst_port",
	AttrAclIPProtocol:     "acl_ip_protocol",
	AttrAclTCPFlags:       "acl_tcp_flags",
	AttrAclAction:         "acl_action",
}

func (a AttrID) String() string {
	if name, ok := attrNames[a]; ok {
		return name
	}
	return fmt.Sprintf("attr_%d", uint16(a))
}

// MAC is a 48-bit hardware address held by value so Values stay comparable.
type MAC [6]byte

// ParseMAC accepts any 48-bit form understood by net.ParseMAC.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	if s == "" {
		return m, nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, err
	}
	if len(hw) != len(m) {
		return m, fmt.Errorf("mac %q is not 48 bits", s)
	}
	copy(m[:], hw)
	return m, nil
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// Value is the attribute value union. Only the member matching the
// attribute's declared kind is meaningful; the zero Value resets any
// attribute to its hardware default. Values are comparable with ==.
type Value struct {
	Bool   bool
	Uint   uint64
	MAC    MAC
	Prefix netip.Prefix
}

func BoolValue(b bool) Value           { return Value{Bool: b} }
func UintValue(u uint64) Value         { return Value{Uint: u} }
func MACValue(m MAC) Value             { return Value{MAC: m} }
func PrefixValue(p netip.Prefix) Value { return Value{Prefix: p} }

func (v Value) String() string {
	switch {
	case v.Prefix.IsValid():
		return v.Prefix.String()
	case v.MAC != (MAC{}):
		return v.MAC.String()
	case v.Bool:
		return "true"
	default:
		return fmt.Sprintf("%d", v.Uint)
	}
}

// Attribute pairs an attribute id with its value.
type Attribute struct {
	ID    AttrID
	Value Value
}

func (a Attribute) String() string {
	return fmt.Sprintf("%s=%s", a.ID, a.Value)
}
