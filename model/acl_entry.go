package model

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
)

// AclAction is the verdict applied to traffic matching an AclEntry.
type AclAction int

const (
	// AclActionPermit is the zero value, so entries permit unless told otherwise.
	AclActionPermit AclAction = iota
	AclActionDeny
)

func (a AclAction) String() string {
	switch a {
	case AclActionPermit:
		return "PERMIT"
	case AclActionDeny:
		return "DENY"
	default:
		return fmt.Sprintf("AclAction(%d)", int(a))
	}
}

// ParseAclAction accepts the names produced by String, case-insensitively.
func ParseAclAction(s string) (AclAction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PERMIT", "":
		return AclActionPermit, nil
	case "DENY":
		return AclActionDeny, nil
	default:
		return 0, fmt.Errorf("unknown acl action %q", s)
	}
}

func (a AclAction) MarshalText() ([]byte, error) {
	switch a {
	case AclActionPermit, AclActionDeny:
		return []byte(a.String()), nil
	default:
		return nil, fmt.Errorf("unknown acl action %d", int(a))
	}
}

func (a *AclAction) UnmarshalText(text []byte) error {
	parsed, err := ParseAclAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AclEntryFields is the canonical structured form of an AclEntry and the
// schema persisted across warm restarts. Field order is significant; every
// field defaults to its zero value.
type AclEntryFields struct {
	ID           AclEntryID   `json:"id"`
	SrcIP        netip.Prefix `json:"srcIp"`
	DstIP        netip.Prefix `json:"dstIp"`
	L4SrcPort    uint16       `json:"l4SrcPort"`
	L4DstPort    uint16       `json:"l4DstPort"`
	Proto        uint8        `json:"proto"`
	TCPFlags     uint8        `json:"tcpFlags"`
	TCPFlagsMask uint8        `json:"tcpFlagsMask"`
	Action       AclAction    `json:"action"`
}

// AclEntry stores state about one access-control entry on the switch. It
// is a leaf of the configuration tree.
type AclEntry struct {
	f AclEntryFields
}

// NewAclEntry returns an entry that matches everything and permits it.
func NewAclEntry(id AclEntryID) *AclEntry {
	return &AclEntry{f: AclEntryFields{ID: id}}
}

// AclEntryFromFields rebuilds an entry from its structured form.
func AclEntryFromFields(f AclEntryFields) *AclEntry {
	f.SrcIP = f.SrcIP.Masked()
	f.DstIP = f.DstIP.Masked()
	return &AclEntry{f: f}
}

// UnmarshalAclEntry decodes the JSON produced by AclEntry.MarshalJSON.
func UnmarshalAclEntry(data []byte) (*AclEntry, error) {
	var f AclEntryFields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode acl entry: %w", err)
	}
	return AclEntryFromFields(f), nil
}

// Fields returns a copy of the entry's structured form.
func (e *AclEntry) Fields() AclEntryFields { return e.f }

func (e *AclEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.f)
}

func (e *AclEntry) ID() AclEntryID      { return e.f.ID }
func (e *AclEntry) SrcIP() netip.Prefix { return e.f.SrcIP }
func (e *AclEntry) DstIP() netip.Prefix { return e.f.DstIP }
func (e *AclEntry) L4SrcPort() uint16   { return e.f.L4SrcPort }
func (e *AclEntry) L4DstPort() uint16   { return e.f.L4DstPort }
func (e *AclEntry) Proto() uint8        { return e.f.Proto }
func (e *AclEntry) TCPFlags() uint8     { return e.f.TCPFlags }
func (e *AclEntry) TCPFlagsMask() uint8 { return e.f.TCPFlagsMask }
func (e *AclEntry) Action() AclAction   { return e.f.Action }

// ForEachChild is a no-op: acl entries own no children.
func (e *AclEntry) ForEachChild(func(Node) error) error { return nil }

// Equal reports whether both entries carry identical fields.
func (e *AclEntry) Equal(o *AclEntry) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.f == o.f
}

func (e *AclEntry) clone() *AclEntry {
	c := *e
	return &c
}

func (e *AclEntry) WithSrcIP(p netip.Prefix) *AclEntry {
	c := e.clone()
	c.f.SrcIP = p.Masked()
	return c
}

func (e *AclEntry) WithDstIP(p netip.Prefix) *AclEntry {
	c := e.clone()
	c.f.DstIP = p.Masked()
	return c
}

func (e *AclEntry) WithL4SrcPort(port uint16) *AclEntry {
	c := e.clone()
	c.f.L4SrcPort = port
	return c
}

func (e *AclEntry) WithL4DstPort(port uint16) *AclEntry {
	c := e.clone()
	c.f.L4DstPort = port
	return c
}

func (e *AclEntry) WithProto(proto uint8) *AclEntry {
	c := e.clone()
	c.f.Proto = proto
	return c
}

func (e *AclEntry) WithTCPFlags(flags, mask uint8) *AclEntry {
	c := e.clone()
	c.f.TCPFlags = flags
	c.f.TCPFlagsMask = mask
	return c
}

func (e *AclEntry) WithAction(a AclAction) *AclEntry {
	c := e.clone()
	c.f.Action = a
	return c
}
