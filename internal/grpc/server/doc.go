// Package server runs the tokengate gRPC server: interceptor chains, the
// protected services, and the standard health and reflection services.
package server
