package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const (
	ownerKey ctxKey = iota
	tokenKey
)

// ExtractTokenFromHeader returns the bearer token of r, or "".
func ExtractTokenFromHeader(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithOwner returns ctx carrying the owner identifier and session token.
func WithOwner(ctx context.Context, uid, token string) context.Context {
	ctx = context.WithValue(ctx, ownerKey, uid)
	return context.WithValue(ctx, tokenKey, token)
}

// OwnerFrom returns the owner identifier stored by Middleware.
func OwnerFrom(ctx context.Context) string {
	uid, _ := ctx.Value(ownerKey).(string)
	return uid
}

// TokenFrom returns the session token stored by Middleware.
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey).(string)
	return tok
}

// Middleware rejects requests without a valid bearer session. onError
// writes the rejection so the caller controls the response format.
func (a *Auth) Middleware(onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractTokenFromHeader(r)
			u, err := a.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), u.UID, token)))
		})
	}
}
