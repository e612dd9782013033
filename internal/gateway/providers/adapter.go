package providers

import (
	"context"
	"fmt"
)

// factory builds the adapter for one kind. Adding a provider family means
// adding an entry here, nothing in the request path switches on kind.
type factory func(cfg ServiceConfig) Adapter

var factories = map[Kind]factory{
	KindPayment:   newPaymentAdapter,
	KindMaps:      newMapsAdapter,
	KindTracking:  newTrackingAdapter,
	KindPartner:   newPartnerAdapter,
	KindEmergency: newEmergencyAdapter,
}

// New validates cfg and builds the adapter for its kind.
func New(cfg ServiceConfig) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return factories[cfg.Kind](cfg), nil
}

// baseAdapter restricts a shared HTTPClient to the operations a kind offers.
type baseAdapter struct {
	kind       Kind
	operations map[string]bool
	client     *HTTPClient
}

func (a *baseAdapter) Kind() Kind {
	return a.kind
}

func (a *baseAdapter) Do(ctx context.Context, req *Request) (*Response, error) {
	if !a.operations[req.Operation] {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, req.Operation, a.kind)
	}
	return a.client.Send(ctx, req)
}

func operationSet(ops ...string) map[string]bool {
	m := make(map[string]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}
