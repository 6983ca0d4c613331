package model

import "encoding/json"

// PortFields is the structured form of a Port.
type PortFields struct {
	ID          PortID `json:"id"`
	Name        string `json:"name"`
	AdminUp     bool   `json:"adminUp"`
	IngressVlan VlanID `json:"ingressVlan"`
}

// Port is the desired configuration of one physical port.
type Port struct {
	f PortFields
}

func NewPort(id PortID, name string) *Port {
	return &Port{f: PortFields{ID: id, Name: name, IngressVlan: DefaultVlan}}
}

func PortFromFields(f PortFields) *Port { return &Port{f: f} }

func (p *Port) Fields() PortFields { return p.f }

func (p *Port) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.f)
}

func (p *Port) ID() PortID          { return p.f.ID }
func (p *Port) Name() string        { return p.f.Name }
func (p *Port) AdminUp() bool       { return p.f.AdminUp }
func (p *Port) IngressVlan() VlanID { return p.f.IngressVlan }

func (p *Port) ForEachChild(func(Node) error) error { return nil }

func (p *Port) Equal(o *Port) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.f == o.f
}

func (p *Port) WithAdminUp(up bool) *Port {
	c := *p
	c.f.AdminUp = up
	return &c
}

func (p *Port) WithIngressVlan(vlan VlanID) *Port {
	c := *p
	c.f.IngressVlan = vlan
	return &c
}
