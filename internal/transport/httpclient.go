package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient returns an HTTP client for endpoint. Plain http endpoints
// use HTTP/2 with prior knowledge (h2c), matching Server; https endpoints use
// the default transport.
func NewHTTPClient(endpoint string) *http.Client {
	if !strings.HasPrefix(endpoint, "http://") {
		return &http.Client{Transport: http.DefaultTransport}
	}

	var d net.Dialer
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return d.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
			PingTimeout:     15 * time.Second,
		},
	}
}
