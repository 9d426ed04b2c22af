// Package users implements the gateway.service.Users gRPC service, a
// protected endpoint that echoes the authenticated caller id.
package users
