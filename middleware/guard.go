package middleware

import (
	"net"
	"net/http"
	"strings"

	goToken "github.com/MrEthical07/goToken"
)

// PrincipalFromRequest returns the principal admitted by Guard.
func PrincipalFromRequest(r *http.Request) (goToken.Principal, bool) {
	return goToken.PrincipalFromContext(r.Context())
}

// Guard admits requests whose bearer access token passes Engine.Authorize for
// roles. Authentication failures answer 401, missing roles 403, and backend
// outages 503.
func Guard(engine *goToken.Engine, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := goToken.WithUserAgent(goToken.WithClientIP(r.Context(), clientIP(r)), r.UserAgent())
			res, err := engine.Authorize(ctx, token, roles...)
			if err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(goToken.WithPrincipal(ctx, res.Principal)))
		})
	}
}

// RequireRole rejects requests whose admitted principal lacks role. It must run
// after Guard.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromRequest(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !p.HasRole(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := goToken.StatusCode(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	http.Error(w, http.StatusText(status), status)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
