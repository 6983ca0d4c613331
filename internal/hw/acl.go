package hw

import (
	"net/netip"

	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/model"
)

// AclSpec is the hardware view of an ACL entry: its match fields and
// action.
type AclSpec struct {
	SrcIP        netip.Prefix
	DstIP        netip.Prefix
	L4SrcPort    uint16
	L4DstPort    uint16
	Proto        uint8
	TCPFlags     uint8
	TCPFlagsMask uint8
	Action       model.AclAction
}

// AclSpecFrom derives the hardware spec of a configured ACL entry.
func AclSpecFrom(e *model.AclEntry) AclSpec {
	return AclSpec{
		SrcIP:        e.SrcIP(),
		DstIP:        e.DstIP(),
		L4SrcPort:    e.L4SrcPort(),
		L4DstPort:    e.L4DstPort(),
		Proto:        e.Proto(),
		TCPFlags:     e.TCPFlags(),
		TCPFlagsMask: e.TCPFlagsMask(),
		Action:       e.Action(),
	}
}

func (s AclSpec) attributes() []sai.Attribute {
	// Flags and mask share one attribute: the mask in the high byte.
	flags := uint64(s.TCPFlagsMask)<<8 | uint64(s.TCPFlags)
	return []sai.Attribute{
		{ID: sai.AttrAclSrcIP, Value: sai.PrefixValue(s.SrcIP)},
		{ID: sai.AttrAclDstIP, Value: sai.PrefixValue(s.DstIP)},
		{ID: sai.AttrAclL4SrcPort, Value: sai.UintValue(uint64(s.L4SrcPort))},
		{ID: sai.AttrAclL4DstPort, Value: sai.UintValue(uint64(s.L4DstPort))},
		{ID: sai.AttrAclIPProtocol, Value: sai.UintValue(uint64(s.Proto))},
		{ID: sai.AttrAclTCPFlags, Value: sai.UintValue(flags)},
		{ID: sai.AttrAclAction, Value: sai.UintValue(uint64(s.Action))},
	}
}

// AclTable owns ACL entries keyed by entry id.
type AclTable = Table[model.AclEntryID, AclSpec]

// NewAclTable returns an empty ACL table.
func NewAclTable(api sai.API, opts ...TableOption) *AclTable {
	return NewTable[model.AclEntryID](
		"acl_entries", api, sai.ObjectTypeAclEntry, AclSpec.attributes, opts...)
}
