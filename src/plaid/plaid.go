package plaid

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/plaid/plaid-go/v41/plaid"
)

var environments = map[string]plaid.Environment{
	"sandbox":    plaid.Sandbox,
	"production": plaid.Production,
}

// NewPlaidClient builds the generated API client for env. Per-request
// deadlines come from the caller's context; the transport only bounds
// connection setup.
func NewPlaidClient(clientID, secret, env string) (*plaid.APIClient, error) {
	server, ok := environments[env]
	if !ok {
		return nil, fmt.Errorf("invalid plaid environment: %s", env)
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	configuration.AddDefaultHeader("PLAID-SECRET", secret)
	configuration.UseEnvironment(server)
	configuration.UserAgent = "budgeteer-server"
	configuration.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}

	return plaid.NewAPIClient(configuration), nil
}
