package sai

// CallObserver is notified after every Control API call.
type CallObserver interface {
	ObserveCall(op Op, t ObjectType, status Status)
}

type instrumented struct {
	API
	obs CallObserver
}

// Instrument wraps api so obs sees the outcome of every call. A nil
// observer returns api unchanged.
func Instrument(api API, obs CallObserver) API {
	if obs == nil {
		return api
	}
	return &instrumented{API: api, obs: obs}
}

func (i *instrumented) Create(t ObjectType, attrs []Attribute) (ObjectID, error) {
	id, err := i.API.Create(t, attrs)
	i.obs.ObserveCall(OpCreate, t, StatusOf(err))
	return id, err
}

func (i *instrumented) Set(id ObjectID, attr Attribute) error {
	err := i.API.Set(id, attr)
	i.obs.ObserveCall(OpSet, ObjectTypeOf(id), StatusOf(err))
	return err
}

func (i *instrumented) Get(id ObjectID, attr AttrID) (Value, error) {
	v, err := i.API.Get(id, attr)
	i.obs.ObserveCall(OpGet, ObjectTypeOf(id), StatusOf(err))
	return v, err
}

func (i *instrumented) Remove(id ObjectID) error {
	err := i.API.Remove(id)
	i.obs.ObserveCall(OpRemove, ObjectTypeOf(id), StatusOf(err))
	return err
}
