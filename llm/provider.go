package llm

import (
	"context"
	"net/http"
	"sync"

	"github.com/c360studio/semflow/model"
)

// Provider adapts the client to one upstream completion API. NewRequest
// builds the complete HTTP request for an endpoint, URL and headers
// included; Decode maps the provider's response body onto Response.
type Provider interface {
	Name() string
	NewRequest(ctx context.Context, ep model.EndpointConfig, req Request) (*http.Request, error)
	Decode(body []byte) (*Response, error)
}

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// Register makes a provider available under its name. Provider packages
// call this from init; the CLI pulls them in with a blank import.
func Register(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// Lookup returns the provider registered under name, or nil.
func Lookup(name string) Provider {
	providersMu.RLock()
	defer providersMu.RUnlock()
	return providers[name]
}
