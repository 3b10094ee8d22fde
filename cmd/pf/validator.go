package main

import (
	"fmt"
	"net/url"

	"github.com/alfredjeanlab/pipeflow/internal/gateway"
)

// newRemoteValidator builds a validator client from a URL. http(s):// URLs
// post to the parse endpoint; grpc://host:port dials the gRPC service.
// The returned close func releases the connection.
func newRemoteValidator(rawURL, token string) (gateway.Validator, func() error, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid validator URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return gateway.NewHTTPValidator(rawURL, token), func() error { return nil }, nil
	case "grpc":
		if u.Host == "" {
			return nil, nil, fmt.Errorf("invalid validator URL %q: missing host", rawURL)
		}
		v, err := gateway.NewGRPCValidator(u.Host, token)
		if err != nil {
			return nil, nil, err
		}
		return v, v.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid validator URL %q: scheme must be http, https or grpc", rawURL)
	}
}
