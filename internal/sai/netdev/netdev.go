// Package netdev is a Control API backend for software switches built from
// Linux network devices. Port admin state, MTU and the bridge PVID are
// programmed over netlink; every other object lives in memory.
package netdev

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/internal/sai/memsai"
)

// API drives ports as netdevs, optionally inside a named network namespace.
type API struct {
	h       *netlink.Handle
	ns      *netns.NsHandle
	mem     *memsai.API
	links   map[sai.ObjectID]string
	byName  map[string]sai.ObjectID
	onError func(error)
}

// New binds one port object to each named link. It fails if any link is
// missing.
func New(namespace string, linkNames []string) (*API, error) {
	a := &API{
		mem:    memsai.New(),
		links:  make(map[sai.ObjectID]string, len(linkNames)),
		byName: make(map[string]sai.ObjectID, len(linkNames)),
	}
	if err := a.open(namespace); err != nil {
		return nil, err
	}
	for _, name := range linkNames {
		if _, err := a.h.LinkByName(name); err != nil {
			a.Close()
			return nil, fmt.Errorf("link %q: %w", name, err)
		}
		id := a.mem.AddPort(name)
		a.links[id] = name
		a.byName[name] = id
	}
	return a, nil
}

func (a *API) open(namespace string) error {
	if namespace == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return fmt.Errorf("netlink handle: %w", err)
		}
		a.h = h
		return nil
	}
	ns, err := netns.GetFromName(namespace)
	if err != nil {
		return fmt.Errorf("open netns %q: %w", namespace, err)
	}
	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return fmt.Errorf("netlink handle in %q: %w", namespace, err)
	}
	a.h = h
	a.ns = &ns
	return nil
}

// SetErrorHandler installs a callback for errors on the link subscription.
func (a *API) SetErrorHandler(fn func(error)) {
	a.onError = fn
}

// Close releases the netlink socket and namespace handle.
func (a *API) Close() {
	if a.h != nil {
		a.h.Close()
	}
	if a.ns != nil {
		a.ns.Close()
	}
}

// SubscribeLinkEvents implements sai.LinkEventSource by listening for
// RTM_NEWLINK updates on the bound links.
func (a *API) SubscribeLinkEvents(ctx context.Context, fn sai.LinkEventFunc) error {
	updates := make(chan netlink.LinkUpdate, 16)
	done := make(chan struct{})
	defer close(done)

	opts := netlink.LinkSubscribeOptions{
		Namespace:     a.ns,
		ErrorCallback: a.onError,
	}
	if err := netlink.LinkSubscribeWithOptions(updates, done, opts); err != nil {
		return fmt.Errorf("subscribe link updates: %w", err)
	}

	last := make(map[sai.ObjectID]bool, len(a.byName))
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return fmt.Errorf("link update channel closed")
			}
			id, known := a.byName[u.Link.Attrs().Name]
			if !known {
				continue
			}
			up := u.Link.Attrs().OperState == netlink.OperUp
			if prev, seen := last[id]; seen && prev == up {
				continue
			}
			last[id] = up
			fn(id, up)
		}
	}
}

func (a *API) PortByName(name string) (sai.ObjectID, error) {
	return a.mem.PortByName(name)
}

func (a *API) Create(t sai.ObjectType, attrs []sai.Attribute) (sai.ObjectID, error) {
	return a.mem.Create(t, attrs)
}

func (a *API) Remove(id sai.ObjectID) error {
	return a.mem.Remove(id)
}

func (a *API) Set(id sai.ObjectID, attr sai.Attribute) error {
	name, ok := a.links[id]
	if !ok {
		return a.mem.Set(id, attr)
	}

	link, err := a.h.LinkByName(name)
	if err != nil {
		return a.failure(sai.OpSet, id, attr.ID, sai.StatusItemNotFound)
	}

	switch attr.ID {
	case sai.AttrPortAdminState:
		if attr.Value.Bool {
			err = a.h.LinkSetUp(link)
		} else {
			err = a.h.LinkSetDown(link)
		}
	case sai.AttrPortMTU:
		err = a.h.LinkSetMTU(link, int(attr.Value.Uint))
	case sai.AttrPortVlanID:
		// Only bridge ports have a PVID; standalone links just track the value.
		if link.Attrs().MasterIndex != 0 {
			prev, _ := a.mem.Attribute(id, sai.AttrPortVlanID)
			err = setPVID(a.h, link, uint16(prev.Uint), uint16(attr.Value.Uint))
		}
	}
	if err != nil {
		return a.failure(sai.OpSet, id, attr.ID, sai.StatusFailure)
	}
	return a.mem.Set(id, attr)
}

// bridgeVlans is the part of netlink.Handle that edits bridge port VLANs.
type bridgeVlans interface {
	BridgeVlanAdd(link netlink.Link, vid uint16, pvid, untagged, self, master bool) error
	BridgeVlanDel(link netlink.Link, vid uint16, pvid, untagged, self, master bool) error
}

// setPVID makes vid the untagged PVID of a bridge port and drops the
// untagged membership of the previous one. prev is 0 when unknown.
func setPVID(b bridgeVlans, link netlink.Link, prev, vid uint16) error {
	if err := b.BridgeVlanAdd(link, vid, true, true, false, true); err != nil {
		return err
	}
	if prev == 0 || prev == vid {
		return nil
	}
	return b.BridgeVlanDel(link, prev, true, true, false, true)
}

func (a *API) Get(id sai.ObjectID, attr sai.AttrID) (sai.Value, error) {
	name, ok := a.links[id]
	if !ok {
		return a.mem.Get(id, attr)
	}

	link, err := a.h.LinkByName(name)
	if err != nil {
		return sai.Value{}, a.failure(sai.OpGet, id, attr, sai.StatusItemNotFound)
	}
	attrs := link.Attrs()

	switch attr {
	case sai.AttrPortAdminState:
		return sai.BoolValue(attrs.Flags&net.FlagUp != 0), nil
	case sai.AttrPortOperStatus:
		return sai.BoolValue(attrs.OperState == netlink.OperUp), nil
	case sai.AttrPortMTU:
		return sai.UintValue(uint64(attrs.MTU)), nil
	case sai.AttrPortStatInOctets, sai.AttrPortStatOutOctets, sai.AttrPortStatInErrors, sai.AttrPortStatOutErrors:
		return statValue(attrs.Statistics, attr), nil
	default:
		return a.mem.Get(id, attr)
	}
}

func statValue(stats *netlink.LinkStatistics, attr sai.AttrID) sai.Value {
	if stats == nil {
		return sai.Value{}
	}
	switch attr {
	case sai.AttrPortStatInOctets:
		return sai.UintValue(stats.RxBytes)
	case sai.AttrPortStatOutOctets:
		return sai.UintValue(stats.TxBytes)
	case sai.AttrPortStatInErrors:
		return sai.UintValue(stats.RxErrors)
	case sai.AttrPortStatOutErrors:
		return sai.UintValue(stats.TxErrors)
	}
	return sai.Value{}
}

func (a *API) failure(op sai.Op, id sai.ObjectID, attr sai.AttrID, status sai.Status) error {
	return &sai.StatusError{Op: op, Object: sai.ObjectTypeOf(id), ID: id, Attr: attr, Status: status}
}
