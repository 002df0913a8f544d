// Package auth provides shared API token authentication for the gRPC and HTTP APIs.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Header carries the API token on both transports.
// gRPC metadata keys are lowercase.
const Header = "x-api-key"

// healthPrefix exempts the standard gRPC health service.
const healthPrefix = "/grpc.health.v1.Health/"

// Authenticator checks a presented key against one configured token.
// A zero-value or nil Authenticator accepts every request.
type Authenticator struct {
	digest []byte
}

// NewAuthenticator returns an Authenticator for token.
// An empty token disables authentication.
func NewAuthenticator(token string) *Authenticator {
	if token == "" {
		return &Authenticator{}
	}
	return &Authenticator{digest: digestOf(token)}
}

// Enabled reports whether a token is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.digest != nil
}

// Authenticate validates key. Keys are compared as SHA-256 digests in
// constant time.
func (a *Authenticator) Authenticate(key string) error {
	if !a.Enabled() {
		return nil
	}
	if key == "" {
		return ErrMissingKey
	}
	if !hmac.Equal(a.digest, digestOf(key)) {
		return ErrInvalidKey
	}
	return nil
}

func digestOf(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// UnaryInterceptor returns a gRPC interceptor that authenticates requests
// from the x-api-key metadata. Health checks are not authenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !a.Enabled() || strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		var key string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if keys := md.Get(Header); len(keys) > 0 {
				key = keys[0]
			}
		}
		if err := a.Authenticate(key); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

// Middleware returns HTTP middleware that authenticates requests from the
// X-API-Key header, answering 401 on failure.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r.Header.Get(Header)); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
