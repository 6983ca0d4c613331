// Package platform is the board-level side of a switch port. It turns the
// link and admin state reported by the port controller into an operational
// status, publishes it, and logs transitions.
package platform

import (
	"context"
	"sync"

	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/model"
)

// StateRecorder receives the admin and link state of a named port.
type StateRecorder interface {
	SetPortState(port string, adminUp, linkUp bool)
}

// Status is a snapshot of one platform port.
type Status struct {
	ID      model.PortID
	Name    string
	AdminUp bool
	LinkUp  bool
	// OperUp is link up on an admin-enabled port.
	OperUp bool
	// Changes counts operational status transitions.
	Changes uint64
}

// Port implements hw.PlatformPort. Unlike the controller it is safe for
// concurrent use, so status can be read without the switch lock.
type Port struct {
	mu     sync.RWMutex
	status Status

	log      logging.Logger
	recorder StateRecorder
}

// NewPort returns a port that starts admin and link down. rec may be nil.
func NewPort(id model.PortID, name string, log logging.Logger, rec StateRecorder) *Port {
	if log == nil {
		log = logging.Noop()
	}
	return &Port{
		status: Status{ID: id, Name: name},
		log: log.With(
			logging.Int("port_id", int(id)),
			logging.String("port", name),
		),
		recorder: rec,
	}
}

// LinkStatusChanged records a new link/admin pair.
func (p *Port) LinkStatusChanged(linkUp, adminUp bool) {
	p.mu.Lock()
	prev := p.status.OperUp
	p.status.LinkUp = linkUp
	p.status.AdminUp = adminUp
	p.status.OperUp = linkUp && adminUp
	oper := p.status.OperUp
	if oper != prev {
		p.status.Changes++
	}
	p.mu.Unlock()

	if oper != prev {
		p.log.Info(context.Background(), "port operational status changed",
			logging.Bool("oper_up", oper),
			logging.Bool("link_up", linkUp),
			logging.Bool("admin_up", adminUp),
		)
	}
	if p.recorder != nil {
		p.recorder.SetPortState(p.metricName(), adminUp, linkUp)
	}
}

// Status returns a copy of the current status.
func (p *Port) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Port) metricName() string {
	return p.status.ID.String()
}
