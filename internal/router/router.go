package router

import (
	"net/http"

	"github.com/academyhub/backend/internal/auth"
	"github.com/academyhub/backend/internal/dashboard"
)

// New returns an http.Handler that serves the staff API under /api/v1.
// staffAuth guards every route except login; register additionally needs an
// admin token.
func New(authHandler *auth.Handler, dashHandler *dashboard.Handler, staffAuth func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	mux.Handle("POST "+base+"/auth/register", staffAuth(http.HandlerFunc(authHandler.Register)))
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)

	mux.Handle("GET "+base+"/me", staffAuth(http.HandlerFunc(dashHandler.GetMe)))
	mux.Handle("GET "+base+"/agent-keys", staffAuth(http.HandlerFunc(dashHandler.ListAgentKeys)))
	mux.Handle("POST "+base+"/agent-keys", staffAuth(http.HandlerFunc(dashHandler.CreateAgentKey)))
	mux.Handle("DELETE "+base+"/agent-keys/{id}", staffAuth(http.HandlerFunc(dashHandler.RevokeAgentKey)))

	return mux
}
