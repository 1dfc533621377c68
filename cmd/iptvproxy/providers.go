package main

import (
	"fmt"

	"github.com/ivgateway/ivproxy/internal/config"
	"github.com/ivgateway/ivproxy/internal/provider"
	"github.com/ivgateway/ivproxy/internal/session"
)

// buildProviderClient wires one source.yml input into a provider.Client,
// applying api-proxy.yml's header-policy overrides for that input's name
// (spec.md §4.7). The connection accountant's limit comes straight from
// the input's max_connections.
func buildProviderClient(in config.Input, apiProxy *config.APIProxyConfig) (*provider.Client, error) {
	client, err := provider.NewClient(in.Name, in.ConnectTimeout, in.ProxyURL, in.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", in.Name, err)
	}
	if apiProxy != nil {
		if p, ok := apiProxy.Providers[in.Name]; ok {
			client.HeaderPolicy = provider.HeaderPolicy{
				DropReferer:    p.DropReferer,
				DropXHeaders:   p.DropXHeaders,
				DropCloudflare: p.DropCloudflare,
			}
			for k := range p.Custom {
				client.HeaderPolicy.Custom = append(client.HeaderPolicy.Custom, k)
			}
		}
	}
	return client, nil
}

// buildProviderLimiter wires an input's max_connections into the
// per-provider grace-period admission gate of spec.md §4.8.
func buildProviderLimiter(in config.Input, grace session.GraceConfig) *session.ProviderLimiter {
	return session.NewProviderLimiter(in.MaxConnections, grace)
}
