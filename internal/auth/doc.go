// Package auth provides the gRPC interceptors that authenticate calls with
// RS256 bearer tokens.
//
// Every call must carry a token in the "authorization" metadata entry. The
// interceptor resolves the current signing keys through a KeySource (normally
// a certs.Refresher), validates the token and, on success, hands the handler a
// copy of the incoming metadata with the caller identity under "x-user-id".
//
// # Status codes
//
//   - Unauthenticated: missing, malformed, unknown, forged, expired or
//     identity-less tokens. The message names the reason.
//   - Internal: signing certificates could not be retrieved, or the identity
//     cannot be encoded as metadata. The message is generic.
//
// # Usage
//
//	refresher := certs.NewRefresher(certs.NewStore(), certs.NewHTTPFetcher(certs.DefaultURL))
//	interceptor, err := auth.NewInterceptor(refresher, auth.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	srv := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(interceptor.Unary()),
//	    grpc.ChainStreamInterceptor(interceptor.Stream()),
//	)
//
// Handlers read the identity with UserIDFromContext.
package auth
