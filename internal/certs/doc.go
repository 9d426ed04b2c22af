// Package certs keeps the identity provider's signing certificates.
//
// A Store holds the current Set of RSA verification keys keyed by key id,
// together with the time the set expires. An HTTPFetcher downloads the
// provider document (a JSON object of key id to PEM certificate) and converts
// it into a new Set; conversion is all-or-nothing. A Refresher combines the
// two: callers ask it for keys and it fetches and replaces the set only when
// the store has expired.
//
//	store := certs.NewStore()
//	fetcher := certs.NewHTTPFetcher(certs.DefaultURL, certs.WithRefreshInterval(time.Hour))
//	refresher := certs.NewRefresher(store, fetcher)
//
//	keys, err := refresher.Keys(ctx)
//
// The fetcher can optionally share documents between replicas through Redis
// (RedisDocumentCache) and guard the provider with a circuit breaker.
package certs
