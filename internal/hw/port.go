package hw

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/model"
)

// PlatformPort is the board-level view of a port. It is told about every
// link status change together with the admin state at that moment.
type PlatformPort interface {
	LinkStatusChanged(linkUp, adminUp bool)
}

// StatSink receives port counters under their external keys.
type StatSink interface {
	SetPortStat(key string, value uint64)
}

// PortState is the admin state machine position of a Port.
type PortState int

const (
	PortUninitialized PortState = iota
	PortDisabled
	PortEnabled
)

func (s PortState) String() string {
	switch s {
	case PortUninitialized:
		return "uninitialized"
	case PortDisabled:
		return "disabled"
	case PortEnabled:
		return "enabled"
	default:
		return fmt.Sprintf("port_state_%d", int(s))
	}
}

// Counter metric names published by UpdateStats.
var portCounters = []struct {
	name string
	attr sai.AttrID
}{
	{"in_bytes", sai.AttrPortStatInOctets},
	{"out_bytes", sai.AttrPortStatOutOctets},
	{"in_errors", sai.AttrPortStatInErrors},
	{"out_errors", sai.AttrPortStatOutErrors},
}

// PortOption customises Port construction.
type PortOption func(*Port)

// WithPortLogger attaches a logger for best-effort write failures.
func WithPortLogger(l logging.Logger) PortOption {
	return func(p *Port) {
		p.log = l
	}
}

// WithDefaultVlan sets the ingress VLAN programmed by a cold Init.
func WithDefaultVlan(vlan model.VlanID) PortOption {
	return func(p *Port) {
		p.ingressVlan = vlan
	}
}

// Port is the admin/link/VLAN state machine of one physical port. Hardware
// writes are skipped whenever the tracked value already matches, except
// before Init has completed.
//
// Port performs no locking; see the package documentation.
type Port struct {
	api      sai.API
	id       model.PortID
	handle   sai.ObjectID
	platform PlatformPort
	log      logging.Logger

	adminUp     bool
	linkUp      bool
	ingressVlan model.VlanID
	initDone    bool
}

// NewPort returns an uninitialized controller for the port object handle.
// platform may be nil.
func NewPort(api sai.API, id model.PortID, handle sai.ObjectID, platform PlatformPort, opts ...PortOption) *Port {
	p := &Port{
		api:         api,
		id:          id,
		handle:      handle,
		platform:    platform,
		log:         logging.Noop(),
		ingressVlan: model.DefaultVlan,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logging.Int("port_id", int(id)))
	return p
}

func (p *Port) ID() model.PortID          { return p.id }
func (p *Port) Handle() sai.ObjectID      { return p.handle }
func (p *Port) AdminUp() bool             { return p.adminUp }
func (p *Port) LinkUp() bool              { return p.linkUp }
func (p *Port) IngressVlan() model.VlanID { return p.ingressVlan }
func (p *Port) Initialized() bool         { return p.initDone }

// State reports the admin state machine position.
func (p *Port) State() PortState {
	switch {
	case !p.initDone:
		return PortUninitialized
	case p.adminUp:
		return PortEnabled
	default:
		return PortDisabled
	}
}

// Init brings the port to Disabled. A cold start first programs the tracked
// ingress VLAN; a failure there is logged and does not stop bring-up.
func (p *Port) Init(ctx context.Context, warmBoot bool) WriteResult {
	var res WriteResult
	if !warmBoot {
		if err := p.SetIngressVlan(ctx, p.ingressVlan); err != nil {
			p.log.Error(ctx, "failed to program ingress vlan during init",
				logging.String("attr", sai.AttrPortVlanID.String()),
				logging.Int("vlan", int(p.ingressVlan)),
				logging.Err(err),
			)
			res = WriteResult{Attr: sai.AttrPortVlanID, err: err}
		}
	}

	// Keep the VLAN failure first; Attr names the earliest rejected write.
	if dis := p.Disable(ctx); !dis.OK() {
		if res.OK() {
			res = dis
		} else {
			res.err = multierr.Append(res.err, dis.Err())
		}
	}
	p.initDone = true
	return res
}

// SetIngressVlan programs the port VLAN when it differs from the tracked
// one, or unconditionally before Init completes. The tracked value only
// changes on success.
func (p *Port) SetIngressVlan(ctx context.Context, vlan model.VlanID) error {
	if p.initDone && p.ingressVlan == vlan {
		return nil
	}
	attr := sai.Attribute{ID: sai.AttrPortVlanID, Value: sai.UintValue(uint64(vlan))}
	if err := p.api.Set(p.handle, attr); err != nil {
		return rejected(fmt.Sprintf("port %d ingress vlan %d", p.id, vlan), err)
	}
	p.ingressVlan = vlan
	p.log.Debug(ctx, "ingress vlan programmed", logging.Int("vlan", int(vlan)))
	return nil
}

// Enable sets the port admin up. See setAdmin for failure handling.
func (p *Port) Enable(ctx context.Context) WriteResult {
	return p.setAdmin(ctx, true)
}

// Disable sets the port admin down. See setAdmin for failure handling.
func (p *Port) Disable(ctx context.Context) WriteResult {
	return p.setAdmin(ctx, false)
}

// setAdmin writes the admin state unless it is already tracked. A rejected
// write is logged and the tracked state still moves to the target; Reconcile
// compares against hardware and re-drives it later.
func (p *Port) setAdmin(ctx context.Context, up bool) WriteResult {
	if p.initDone && p.adminUp == up {
		return WriteResult{}
	}

	res := WriteResult{Attr: sai.AttrPortAdminState}
	if err := p.api.Set(p.handle, sai.Attribute{ID: sai.AttrPortAdminState, Value: sai.BoolValue(up)}); err != nil {
		res.err = rejected(fmt.Sprintf("port %d admin state %t", p.id, up), err)
		p.log.Error(ctx, "failed to set port admin state",
			logging.String("attr", sai.AttrPortAdminState.String()),
			logging.Bool("admin_up", up),
			logging.Err(err),
		)
	}
	p.adminUp = up
	// Admin state stands in for link status until hardware reports it.
	p.SetPortStatus(ctx, up)
	return res
}

// SetPortStatus records a link status and forwards it, with the admin
// state, to the platform port. Once initialized, repeats are dropped.
func (p *Port) SetPortStatus(ctx context.Context, linkUp bool) {
	if p.initDone && p.linkUp == linkUp {
		return
	}
	p.linkUp = linkUp
	p.log.Debug(ctx, "port status changed",
		logging.Bool("link_up", linkUp),
		logging.Bool("admin_up", p.adminUp),
	)
	if p.platform != nil {
		p.platform.LinkStatusChanged(linkUp, p.adminUp)
	}
}

// StatName returns the external counter key for metric on this port.
func (p *Port) StatName(metric string) string {
	return StatName(p.id, metric)
}

// StatName returns the external counter key for metric on port id.
func StatName(id model.PortID, metric string) string {
	return fmt.Sprintf("port%d.%s", uint32(id), metric)
}

// UpdateStats reads the port counters and publishes them to sink. Counters
// that fail to read are skipped and reported in the returned error.
func (p *Port) UpdateStats(sink StatSink) error {
	var errs error
	for _, c := range portCounters {
		v, err := p.api.Get(p.handle, c.attr)
		if err != nil {
			errs = multierr.Append(errs, rejected(fmt.Sprintf("port %d read %s", p.id, c.attr), err))
			continue
		}
		sink.SetPortStat(p.StatName(c.name), v.Uint)
	}
	return errs
}

// Reconcile re-drives the tracked admin state when hardware disagrees with
// it, healing earlier best-effort failures.
func (p *Port) Reconcile(ctx context.Context) WriteResult {
	if !p.initDone {
		return WriteResult{}
	}
	got, err := p.api.Get(p.handle, sai.AttrPortAdminState)
	if err != nil {
		return WriteResult{err: rejected(fmt.Sprintf("port %d read admin state", p.id), err)}
	}
	if got.Bool == p.adminUp {
		return WriteResult{}
	}

	p.log.Info(ctx, "port admin state drifted, rewriting",
		logging.Bool("admin_up", p.adminUp),
	)
	res := WriteResult{Attr: sai.AttrPortAdminState}
	if err := p.api.Set(p.handle, sai.Attribute{ID: sai.AttrPortAdminState, Value: sai.BoolValue(p.adminUp)}); err != nil {
		res.err = rejected(fmt.Sprintf("port %d admin state %t", p.id, p.adminUp), err)
		p.log.Error(ctx, "failed to set port admin state",
			logging.String("attr", sai.AttrPortAdminState.String()),
			logging.Bool("admin_up", p.adminUp),
			logging.Err(err),
		)
	}
	return res
}
