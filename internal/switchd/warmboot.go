package switchd

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"

	"github.com/signalsfoundry/switchagent/internal/hw"
	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/model"
)

// warmBootState is what survives an agent restart: the desired
// configuration and the hardware handle of every table entry, so the next
// run can adopt objects instead of creating them again.
type warmBootState struct {
	BootID     string                            `json:"bootId"`
	SavedAt    time.Time                         `json:"savedAt"`
	State      model.SwitchStateFields           `json:"state"`
	Interfaces []handleRecord[model.InterfaceID] `json:"interfaces"`
	Acls       []handleRecord[model.AclEntryID]  `json:"acls"`
}

type handleRecord[ID any] struct {
	ID     ID           `json:"id"`
	Handle sai.ObjectID `json:"handle"`
}

// SaveWarmBoot writes the warm-boot state as JSON.
func (s *Switch) SaveWarmBoot(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := s.desired
	if desired == nil {
		desired = model.NewSwitchState()
	}
	st := warmBootState{
		BootID:     s.bootID,
		SavedAt:    time.Now().UTC(),
		State:      desired.Fields(),
		Interfaces: handleRecords(s.intfs),
		Acls:       handleRecords(s.acls),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("encode warm boot state: %w", err)
	}
	return nil
}

// LoadWarmBoot restores state written by SaveWarmBoot. It must run before
// Init. Recorded handles are adopted without touching hardware; handles
// whose object is missing from the saved configuration are skipped.
func (s *Switch) LoadWarmBoot(ctx context.Context, r io.Reader) error {
	var st warmBootState
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("decode warm boot state: %w", err)
	}
	desired, err := model.SwitchStateFromFields(st.State)
	if err != nil {
		return fmt.Errorf("warm boot state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return ErrAlreadyInitialised
	}

	for _, rec := range st.Interfaces {
		intf, ok := desired.Interface(rec.ID)
		if !ok {
			s.log.Warn(ctx, "dropping warm boot handle for unknown interface",
				logging.Int("interface_id", int(rec.ID)),
				logging.String("handle", rec.Handle.String()),
			)
			continue
		}
		spec, err := hw.InterfaceSpecFrom(intf)
		if err != nil {
			return err
		}
		if _, err := s.intfs.Adopt(ctx, rec.ID, rec.Handle, spec); err != nil {
			return err
		}
	}
	for _, rec := range st.Acls {
		e, ok := desired.AclEntry(rec.ID)
		if !ok {
			s.log.Warn(ctx, "dropping warm boot handle for unknown acl entry",
				logging.Int("acl_id", int(rec.ID)),
				logging.String("handle", rec.Handle.String()),
			)
			continue
		}
		if _, err := s.acls.Adopt(ctx, rec.ID, rec.Handle, hw.AclSpecFrom(e)); err != nil {
			return err
		}
	}
	s.desired = desired

	s.log.Info(ctx, "warm boot state restored",
		logging.String("previous_boot_id", st.BootID),
		logging.Int("interfaces", s.intfs.Len()),
		logging.Int("acls", s.acls.Len()),
	)
	return nil
}

func handleRecords[ID cmp.Ordered, S any](t *hw.Table[ID, S]) []handleRecord[ID] {
	return lo.Map(t.IDs(), func(id ID, _ int) handleRecord[ID] {
		e, _ := t.Find(id)
		return handleRecord[ID]{ID: id, Handle: e.Handle()}
	})
}
