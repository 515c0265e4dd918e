package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/metrics/export/prometheus"
	guard "github.com/MrEthical07/goToken/middleware"
)

type loginRequest struct {
	Subject string `json:"subject" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type revokeRequest struct {
	Reason string `json:"reason" validate:"omitempty,oneof=SECURITY_REVOCATION ADMIN_ACTION"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

type api struct {
	engine   *goToken.Engine
	logger   *zap.Logger
	validate *validator.Validate
}

// newRouter builds the demo API. /login is only mounted when demoLogin is set,
// because it trusts the subject in the request body.
func newRouter(engine *goToken.Engine, logger *zap.Logger, demoLogin bool) http.Handler {
	a := &api{engine: engine, logger: logger, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if demoLogin {
		r.Post("/login", a.login)
	}
	r.Post("/refresh", a.refresh)
	r.Post("/logout", a.logout)
	r.Method(http.MethodGet, "/metrics", prometheus.NewExporter(engine).Handler())

	r.Group(func(r chi.Router) {
		r.Use(guard.Guard(engine))
		r.Get("/me", a.me)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(guard.Guard(engine, "admin"))
		r.Get("/", a.me)
		r.Post("/families/{familyID}/revoke", a.revokeFamily)
	})

	return r
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	// Credential checks belong to the caller; the demo trusts the subject.
	pair, err := a.engine.Login(clientContext(r), req.Subject)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	pair, err := a.engine.Rotate(clientContext(r), req.RefreshToken)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	access := bearer(r)
	if access == "" {
		a.fail(w, goToken.ErrUnauthenticated)
		return
	}
	if err := a.engine.Logout(clientContext(r), req.RefreshToken, access); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	p, ok := guard.PrincipalFromRequest(r)
	if !ok {
		a.fail(w, goToken.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": p.Subject,
		"roles":   p.Roles,
	})
}

func (a *api) revokeFamily(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !a.decode(w, r, &req) {
		return
	}
	reason := goToken.ReasonAdminAction
	if req.Reason != "" {
		reason = goToken.Reason(req.Reason)
	}

	n, err := a.engine.RevokeFamily(clientContext(r), chi.URLParam(r, "familyID"), reason)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": verrs[0].Field() + " is invalid"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return false
	}
	return true
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := goToken.StatusCode(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
}

func clientContext(r *http.Request) context.Context {
	ctx := goToken.WithClientIP(r.Context(), r.RemoteAddr)
	return goToken.WithUserAgent(ctx, r.UserAgent())
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

func toTokenResponse(p *goToken.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
		TokenType:        "Bearer",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
