package features

import (
	"github.com/opensource-finance/scoregate/internal/domain"
)

// Grouped nests fv by wire group. Names outside the catalog are dropped.
func Grouped(fv domain.FeatureVector) map[string]map[string]domain.Value {
	out := make(map[string]map[string]domain.Value, len(groupOrder))
	for _, g := range groupOrder {
		out[g] = make(map[string]domain.Value)
	}
	for _, f := range catalog {
		if v, ok := fv[f.Name]; ok {
			out[f.Group][f.Name] = v
		}
	}
	return out
}

// Payload is the request body of the remote scoring model.
type Payload struct {
	CustomerID string                             `json:"customer_id"`
	Features   map[string]map[string]domain.Value `json:"features"`
}

// NewPayload builds the scoring request for a transformed application.
func NewPayload(customerID string, fv domain.FeatureVector) Payload {
	return Payload{
		CustomerID: customerID,
		Features:   Grouped(fv),
	}
}
