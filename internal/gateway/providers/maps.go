package providers

import (
	"net/http"
	"net/url"
)

const OpDirections = "maps.directions"

// Directions asks for a route between two "lat,lng" points. mode may be
// empty to use the provider default.
func Directions(origin, destination, mode string) *Request {
	q := url.Values{}
	q.Set("origin", origin)
	q.Set("destination", destination)
	if mode != "" {
		q.Set("mode", mode)
	}
	return &Request{
		Operation: OpDirections,
		Method:    http.MethodGet,
		Path:      "/directions",
		Query:     q,
	}
}

func newMapsAdapter(cfg ServiceConfig) Adapter {
	return &baseAdapter{
		kind:       KindMaps,
		operations: operationSet(OpDirections),
		client:     NewHTTPClient(cfg, ""),
	}
}
