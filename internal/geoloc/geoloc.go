// Package geoloc defines the geolocation capability boundary: resolving a
// caller's IP address to a country and country code that the region
// selector can then pick a region from. IP geolocation itself is out of
// scope; this package exists only so the inward adapter has a typed seam
// to satisfy when that capability is added, ahead of having any backing
// implementation wired in.
package geoloc

import "context"

// Location is what a Resolver returns for a resolved IP address.
type Location struct {
	Country     string
	CountryCode string
}

// Resolver resolves an IP address to a Location. No concrete
// implementation ships in this repository; httpapi accepts any Resolver,
// including one backed by a commercial geolocation database, when a
// deployment wires one in.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// StaticResolver always resolves to a fixed Location, useful for tests
// and single-region deployments that don't need per-request geolocation.
type StaticResolver struct {
	Location Location
}

// Resolve implements Resolver.
func (r StaticResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	return r.Location, nil
}
