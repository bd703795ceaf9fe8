package middleware

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

type contextKey string

const ctxAgentKey contextKey = "agent"

// KeyPrefix marks agent API keys so they are recognizable in logs and configs.
const KeyPrefix = "ahk_"

// AgentPrincipal is the automated actor behind a request and the tenant it acts for.
type AgentPrincipal struct {
	AgentID        string
	OrganizationID string
}

type AgentKeyLookup interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.AgentKey, error)
}

// APIKeyAuth authenticates agents by hashing the Bearer token (SHA-256) and
// looking it up in agent_api_keys.
func APIKeyAuth(keys AgentKeyLookup, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				jsonError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			key, err := keys.FindByKeyHash(r.Context(), HashKey(raw))
			if err != nil {
				if !errors.Is(err, repository.ErrKeyNotFound) {
					log.Error("api key lookup failed", "error", err)
				}
				jsonError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			ctx := WithPrincipal(r.Context(), AgentPrincipal{AgentID: key.AgentID, OrganizationID: key.OrganizationID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromCtx returns the authenticated agent, if any.
func PrincipalFromCtx(ctx context.Context) (AgentPrincipal, bool) {
	p, ok := ctx.Value(ctxAgentKey).(AgentPrincipal)
	return p, ok
}

func WithPrincipal(ctx context.Context, p AgentPrincipal) context.Context {
	return context.WithValue(ctx, ctxAgentKey, p)
}

// GenerateKey returns a new raw API key and its stored hash. The raw key is
// shown once and never persisted.
func GenerateKey() (raw, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = KeyPrefix + hex.EncodeToString(buf)
	return raw, HashKey(raw), nil
}

func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
