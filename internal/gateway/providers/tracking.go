package providers

import (
	"net/http"
	"net/url"
)

const OpVehicleLocation = "tracking.vehicle_location"

func VehicleLocation(vehicleID string) *Request {
	return &Request{
		Operation: OpVehicleLocation,
		Method:    http.MethodGet,
		Path:      "/vehicles/" + url.PathEscape(vehicleID) + "/location",
	}
}

func newTrackingAdapter(cfg ServiceConfig) Adapter {
	return &baseAdapter{
		kind:       KindTracking,
		operations: operationSet(OpVehicleLocation),
		client:     NewHTTPClient(cfg, ""),
	}
}
