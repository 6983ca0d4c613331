// Package switchd is the orchestrator of the agent. A Switch owns every
// hardware object table and port controller and serialises all access to
// them behind one lock: configuration applies, hardware link events,
// reconciliation passes and statistics polls.
package switchd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/switchagent/internal/hw"
	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/observability"
	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/model"
)

var (
	// ErrNotReady indicates an operation that needs Init to have run.
	ErrNotReady = errors.New("switch not initialised")
	// ErrAlreadyInitialised indicates a second Init, or warm-boot state
	// loaded after Init.
	ErrAlreadyInitialised = errors.New("switch already initialised")
)

// Metrics receives orchestrator measurements.
type Metrics interface {
	ObserveApply(d time.Duration)
	ObserveReconcile(d time.Duration, rewrites int)
	IncLinkEvents()
	SetWarmBoot(warm bool)
}

// PortBinding ties a logical port to the hardware port object created at
// switch bring-up. Platform may be nil.
type PortBinding struct {
	ID       model.PortID
	Name     string
	Handle   sai.ObjectID
	Platform hw.PlatformPort
}

// PortInfo is a read-only view of one port controller.
type PortInfo struct {
	ID          model.PortID
	Handle      sai.ObjectID
	State       hw.PortState
	AdminUp     bool
	LinkUp      bool
	IngressVlan model.VlanID
}

// Option customises Switch construction.
type Option func(*Switch)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Switch) {
		s.log = l
	}
}

// WithMetrics attaches an orchestrator metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Switch) {
		s.metrics = m
	}
}

// WithTableSizes attaches an entry-count gauge shared by all tables.
func WithTableSizes(r hw.SizeRecorder) Option {
	return func(s *Switch) {
		s.sizes = r
	}
}

// WithStatSink sets where UpdateStats publishes port counters.
func WithStatSink(sink hw.StatSink) Option {
	return func(s *Switch) {
		s.stats = sink
	}
}

// WithDefaultVlan sets the ingress VLAN programmed on cold boot.
func WithDefaultVlan(v model.VlanID) Option {
	return func(s *Switch) {
		s.defaultVlan = v
	}
}

// WithBootID overrides the generated boot id.
func WithBootID(id string) Option {
	return func(s *Switch) {
		s.bootID = id
	}
}

// Switch is the orchestrator.
type Switch struct {
	// mu is the switch lock. Every table and port controller call, and any
	// lookup that may overlap one, happens with it held. Helpers suffixed
	// Locked expect the caller to hold it.
	mu sync.Mutex

	api         sai.API
	log         logging.Logger
	metrics     Metrics
	sizes       hw.SizeRecorder
	stats       hw.StatSink
	defaultVlan model.VlanID
	bootID      string

	intfs         *hw.InterfaceTable
	acls          *hw.AclTable
	ports         map[model.PortID]*hw.Port
	portsByHandle map[sai.ObjectID]model.PortID

	// desired is the last configuration handed to Apply or restored from
	// warm-boot state. It is immutable and may be shared with readers.
	desired  *model.SwitchState
	ready    bool
	warmBoot bool
}

// New builds a switch over api with one port controller per binding.
func New(api sai.API, ports []PortBinding, opts ...Option) (*Switch, error) {
	s := &Switch{
		api:           api,
		log:           logging.Noop(),
		defaultVlan:   model.DefaultVlan,
		ports:         make(map[model.PortID]*hw.Port, len(ports)),
		portsByHandle: make(map[sai.ObjectID]model.PortID, len(ports)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bootID == "" {
		s.bootID = uuid.NewString()
	}
	s.log = s.log.With(logging.String("component", "switchd"))

	tableOpts := []hw.TableOption{hw.WithTableLogger(s.log)}
	if s.sizes != nil {
		tableOpts = append(tableOpts, hw.WithSizeRecorder(s.sizes))
	}
	s.intfs = hw.NewInterfaceTable(api, tableOpts...)
	s.acls = hw.NewAclTable(api, tableOpts...)

	for _, b := range ports {
		if _, dup := s.ports[b.ID]; dup {
			return nil, fmt.Errorf("duplicate port id %d", b.ID)
		}
		if other, dup := s.portsByHandle[b.Handle]; dup {
			return nil, fmt.Errorf("port %d and port %d share handle %s", b.ID, other, b.Handle)
		}
		s.ports[b.ID] = hw.NewPort(api, b.ID, b.Handle, b.Platform,
			hw.WithPortLogger(s.log.With(logging.String("port", b.Name))),
			hw.WithDefaultVlan(s.defaultVlan),
		)
		s.portsByHandle[b.Handle] = b.ID
	}
	return s, nil
}

// BootID identifies this agent run. It is stamped into warm-boot state.
func (s *Switch) BootID() string { return s.bootID }

// Ready reports whether Init has completed.
func (s *Switch) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Init initialises every port controller in id order. A warm boot skips
// the ingress VLAN write. Ports restored from warm-boot state are then
// driven back to their saved admin state.
func (s *Switch) Init(ctx context.Context, warmBoot bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return ErrAlreadyInitialised
	}

	failed := 0
	for _, id := range s.portIDsLocked() {
		if res := s.ports[id].Init(ctx, warmBoot); !res.OK() {
			failed++
		}
	}
	s.ready = true
	s.warmBoot = warmBoot
	if s.metrics != nil {
		s.metrics.SetWarmBoot(warmBoot)
	}

	if s.desired != nil {
		for _, p := range s.desired.Ports() {
			if err := s.syncPortLocked(ctx, p); err != nil {
				s.log.Warn(ctx, "failed to restore port state", logging.Err(err))
			}
		}
	}

	s.log.Info(ctx, "switch initialised",
		logging.Int("ports", len(s.ports)),
		logging.Bool("warm_boot", warmBoot),
		logging.Int("failed_writes", failed),
		logging.String("boot_id", s.bootID),
	)
	return nil
}

// Apply programs the difference between the current desired configuration
// and next. Removals run first so ids can move between objects. Every
// change is attempted; failures are combined into the returned error.
//
// next becomes the desired configuration even when some changes fail.
// Reconcile compares against it and retries.
func (s *Switch) Apply(ctx context.Context, next *model.SwitchState) error {
	ctx, span := observability.StartSpan(ctx, "switchd.Apply", "switch", s.bootID)
	defer span.End()

	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNotReady
	}
	if next == nil {
		next = model.NewSwitchState()
	}

	delta := model.DiffSwitchState(s.desired, next)
	err := s.applyLocked(ctx, delta)
	s.desired = next

	if s.metrics != nil {
		s.metrics.ObserveApply(time.Since(start))
	}
	recordSpanError(span, err)
	if err != nil {
		s.log.Warn(ctx, "configuration applied with errors",
			logging.Int("errors", len(multierr.Errors(err))),
			logging.Err(err),
		)
		return err
	}
	if !delta.Empty() {
		s.log.Info(ctx, "configuration applied",
			logging.Int("ports", len(delta.Ports)),
			logging.Int("interfaces", len(delta.Interfaces)),
			logging.Int("acls", len(delta.Acls)),
		)
	}
	return nil
}

func (s *Switch) applyLocked(ctx context.Context, d model.Delta) error {
	var errs error

	for _, c := range d.Acls {
		if c.Kind == model.ChangeRemoved {
			errs = multierr.Append(errs, s.removeAclLocked(ctx, c.Old.ID()))
		}
	}
	for _, c := range d.Interfaces {
		if c.Kind == model.ChangeRemoved {
			errs = multierr.Append(errs, s.removeInterfaceLocked(ctx, c.Old.ID()))
		}
	}
	for _, c := range d.Interfaces {
		if c.Kind != model.ChangeRemoved {
			_, err := s.syncInterfaceLocked(ctx, c.New)
			errs = multierr.Append(errs, err)
		}
	}
	for _, c := range d.Acls {
		if c.Kind != model.ChangeRemoved {
			_, err := s.syncAclLocked(ctx, c.New)
			errs = multierr.Append(errs, err)
		}
	}
	for _, c := range d.Ports {
		if c.Kind == model.ChangeRemoved {
			s.releasePortLocked(ctx, c.Old.ID())
			continue
		}
		errs = multierr.Append(errs, s.syncPortLocked(ctx, c.New))
	}
	return errs
}

// syncInterfaceLocked adds the interface or programs the existing entry.
// It reports whether a create was issued.
func (s *Switch) syncInterfaceLocked(ctx context.Context, intf *model.Interface) (bool, error) {
	spec, err := hw.InterfaceSpecFrom(intf)
	if err != nil {
		return false, err
	}
	if _, ok := s.intfs.Find(intf.ID()); ok {
		return false, s.intfs.Program(ctx, intf.ID(), spec)
	}
	_, err = s.intfs.Add(ctx, intf.ID(), spec)
	return err == nil, err
}

func (s *Switch) syncAclLocked(ctx context.Context, e *model.AclEntry) (bool, error) {
	spec := hw.AclSpecFrom(e)
	if _, ok := s.acls.Find(e.ID()); ok {
		return false, s.acls.Program(ctx, e.ID(), spec)
	}
	_, err := s.acls.Add(ctx, e.ID(), spec)
	return err == nil, err
}

func (s *Switch) removeInterfaceLocked(ctx context.Context, id model.InterfaceID) error {
	if _, ok := s.intfs.Find(id); !ok {
		return nil
	}
	return s.intfs.Remove(ctx, id)
}

func (s *Switch) removeAclLocked(ctx context.Context, id model.AclEntryID) error {
	if _, ok := s.acls.Find(id); !ok {
		return nil
	}
	return s.acls.Remove(ctx, id)
}

// syncPortLocked drives a port controller to the desired port. Admin state
// writes are best effort; only a rejected VLAN write is returned.
func (s *Switch) syncPortLocked(ctx context.Context, p *model.Port) error {
	port, ok := s.ports[p.ID()]
	if !ok {
		return fmt.Errorf("%w: port %d has no hardware binding", hw.ErrNotFound, p.ID())
	}
	err := port.SetIngressVlan(ctx, p.IngressVlan())
	if p.AdminUp() {
		port.Enable(ctx)
	} else {
		port.Disable(ctx)
	}
	return err
}

// releasePortLocked returns a port dropped from configuration to admin down.
func (s *Switch) releasePortLocked(ctx context.Context, id model.PortID) {
	if port, ok := s.ports[id]; ok {
		port.Disable(ctx)
	}
}

// Reconcile re-applies the whole desired configuration against tracked and
// hardware state: stray table entries are removed, missing ones created,
// drifted attributes rewritten and port admin state re-driven. It returns
// the number of repairs made.
func (s *Switch) Reconcile(ctx context.Context) (int, error) {
	ctx, span := observability.StartSpan(ctx, "switchd.Reconcile", "switch", s.bootID)
	defer span.End()

	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return 0, ErrNotReady
	}
	want := s.desired
	if want == nil {
		want = model.NewSwitchState()
	}

	repairs := 0
	var errs error
	count := func(n int, err error) {
		repairs += n
		errs = multierr.Append(errs, err)
	}

	for _, id := range s.acls.IDs() {
		if _, ok := want.AclEntry(id); !ok {
			count(boolInt(true), s.acls.Remove(ctx, id))
		}
	}
	for _, id := range s.intfs.IDs() {
		if _, ok := want.Interface(id); !ok {
			count(boolInt(true), s.intfs.Remove(ctx, id))
		}
	}
	for _, intf := range want.Interfaces() {
		count(s.reconcileInterfaceLocked(ctx, intf))
	}
	for _, e := range want.AclEntries() {
		count(s.reconcileAclLocked(ctx, e))
	}
	for _, p := range want.Ports() {
		count(s.reconcilePortLocked(ctx, p))
	}

	if s.metrics != nil {
		s.metrics.ObserveReconcile(time.Since(start), repairs)
	}
	recordSpanError(span, errs)
	if repairs > 0 || errs != nil {
		s.log.Info(ctx, "reconciliation pass finished",
			logging.Int("repairs", repairs),
			logging.Int("errors", len(multierr.Errors(errs))),
		)
	}
	return repairs, errs
}

func (s *Switch) reconcileInterfaceLocked(ctx context.Context, intf *model.Interface) (int, error) {
	created, err := s.syncInterfaceLocked(ctx, intf)
	if err != nil || created {
		return boolInt(created), err
	}
	n, err := s.intfs.Resync(ctx, intf.ID())
	if sai.StatusOf(err) == sai.StatusItemNotFound {
		// Hardware lost the object, e.g. after a warm boot onto reset
		// hardware. Drop the stale handle and create it again.
		if ferr := s.intfs.Forget(ctx, intf.ID()); ferr != nil {
			return n, ferr
		}
		created, err = s.syncInterfaceLocked(ctx, intf)
		return n + boolInt(created), err
	}
	return n, err
}

func (s *Switch) reconcileAclLocked(ctx context.Context, e *model.AclEntry) (int, error) {
	created, err := s.syncAclLocked(ctx, e)
	if err != nil || created {
		return boolInt(created), err
	}
	n, err := s.acls.Resync(ctx, e.ID())
	if sai.StatusOf(err) == sai.StatusItemNotFound {
		if ferr := s.acls.Forget(ctx, e.ID()); ferr != nil {
			return n, ferr
		}
		created, err = s.syncAclLocked(ctx, e)
		return n + boolInt(created), err
	}
	return n, err
}

func (s *Switch) reconcilePortLocked(ctx context.Context, p *model.Port) (int, error) {
	port, ok := s.ports[p.ID()]
	if !ok {
		return 0, fmt.Errorf("%w: port %d has no hardware binding", hw.ErrNotFound, p.ID())
	}
	// A rejected VLAN write must not keep admin state from being re-driven.
	syncErr := s.syncPortLocked(ctx, p)
	res := port.Reconcile(ctx)

	oper, err := s.api.Get(port.Handle(), sai.AttrPortOperStatus)
	if err == nil {
		port.SetPortStatus(ctx, oper.Bool)
	}
	return boolInt(res.Written() && res.OK()), multierr.Combine(syncErr, res.Err(), err)
}

// HandleLinkEvent maps an unsolicited link change on a hardware port back
// to its port controller.
func (s *Switch) HandleLinkEvent(ctx context.Context, handle sai.ObjectID, up bool) error {
	ctx, span := observability.StartSpan(ctx, "switchd.HandleLinkEvent", "port", handle.String())
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.portsByHandle[handle]
	if !ok {
		err := fmt.Errorf("%w: no port owns handle %s", hw.ErrNotFound, handle)
		recordSpanError(span, err)
		return err
	}
	if s.metrics != nil {
		s.metrics.IncLinkEvents()
	}
	s.log.Debug(ctx, "link event",
		logging.Int("port_id", int(id)),
		logging.Bool("link_up", up),
	)
	s.ports[id].SetPortStatus(ctx, up)
	return nil
}

// ResolvePort returns the logical id of the port owning handle.
func (s *Switch) ResolvePort(handle sai.ObjectID) (model.PortID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.portsByHandle[handle]
	if !ok {
		return 0, fmt.Errorf("%w: no port owns handle %s", hw.ErrNotFound, handle)
	}
	return id, nil
}

// ResolveInterface returns the logical id of the interface owning handle.
func (s *Switch) ResolveInterface(handle sai.ObjectID) (model.InterfaceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.intfs.LookupHandle(handle)
	if err != nil {
		return 0, err
	}
	return e.ID(), nil
}

// ResolveAclEntry returns the logical id of the ACL entry owning handle.
func (s *Switch) ResolveAclEntry(handle sai.ObjectID) (model.AclEntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.acls.LookupHandle(handle)
	if err != nil {
		return 0, err
	}
	return e.ID(), nil
}

// InterfaceHandle returns the hardware handle of an interface.
func (s *Switch) InterfaceHandle(id model.InterfaceID) (sai.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.intfs.Lookup(id)
	if err != nil {
		return sai.NullObjectID, err
	}
	return e.Handle(), nil
}

// AclEntryHandle returns the hardware handle of an ACL entry.
func (s *Switch) AclEntryHandle(id model.AclEntryID) (sai.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.acls.Lookup(id)
	if err != nil {
		return sai.NullObjectID, err
	}
	return e.Handle(), nil
}

// Port returns a view of one port controller.
func (s *Switch) Port(id model.PortID) (PortInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ports[id]
	if !ok {
		return PortInfo{}, false
	}
	return PortInfo{
		ID:          p.ID(),
		Handle:      p.Handle(),
		State:       p.State(),
		AdminUp:     p.AdminUp(),
		LinkUp:      p.LinkUp(),
		IngressVlan: p.IngressVlan(),
	}, true
}

// UpdateStats polls every port's counters into the configured stat sink.
func (s *Switch) UpdateStats(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats == nil {
		return nil
	}
	var errs error
	for _, id := range s.portIDsLocked() {
		errs = multierr.Append(errs, s.ports[id].UpdateStats(s.stats))
	}
	if errs != nil {
		s.log.Debug(ctx, "some port counters could not be read", logging.Err(errs))
	}
	return errs
}

// Snapshot returns the desired configuration. The result is immutable.
func (s *Switch) Snapshot() *model.SwitchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desired == nil {
		return model.NewSwitchState()
	}
	return s.desired
}

func (s *Switch) portIDsLocked() []model.PortID {
	ids := make([]model.PortID, 0, len(s.ports))
	for id := range s.ports {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
