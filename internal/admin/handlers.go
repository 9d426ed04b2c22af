package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vyrodovalexey/tokengate/internal/certs"
	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReadinessStatus is the /readyz response body.
type ReadinessStatus struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultReadinessTimeout)
	defer cancel()

	result := ReadinessStatus{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]*CheckResult, len(s.checks)),
	}

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			result.Status = "unavailable"
			result.Checks[name] = &CheckResult{Status: "failed", Error: err.Error()}
			continue
		}
		result.Checks[name] = &CheckResult{Status: "ok"}
	}

	code := http.StatusOK
	if result.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}

// handleKeys renders the cached verification keys as a JWKS document. The
// Expires header carries the set's expiry. An expired or empty store is served
// as is; /keys never triggers a fetch.
func (s *Server) handleKeys(c *gin.Context) {
	set := s.keys.Snapshot()

	jwks, err := KeySet(set)
	if err != nil {
		s.logger.Error("failed to render key set", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render key set"})
		return
	}

	body, err := json.Marshal(jwks)
	if err != nil {
		s.logger.Error("failed to encode key set", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render key set"})
		return
	}

	c.Header("Expires", set.ExpiresAt.UTC().Format(http.TimeFormat))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/json", body)
}

// handleRefresh fetches a new certificate set now. A failed retrieval is a
// 502; anything else that goes wrong is a 500.
func (s *Server) handleRefresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultRefreshTimeout)
	defer cancel()

	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Error("forced certificate refresh failed", observability.Error(err))
		code := http.StatusInternalServerError
		if certs.IsFetchError(err) {
			code = http.StatusBadGateway
		}
		c.JSON(code, gin.H{"status": "failed", "error": err.Error()})
		return
	}

	s.logger.Info("forced certificate refresh completed")

	body := gin.H{"status": "refreshed"}
	if s.keys != nil {
		set := s.keys.Snapshot()
		body["keys"] = len(set.Keys)
		body["expiresAt"] = set.ExpiresAt.UTC()
	}
	c.JSON(http.StatusOK, body)
}

// KeySet converts a certificate set into a JWK set of RS256 signing keys,
// ordered by key id.
func KeySet(set certs.Set) (jwk.Set, error) {
	kids := make([]string, 0, len(set.Keys))
	for kid := range set.Keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	out := jwk.NewSet()
	for _, kid := range kids {
		key, err := jwk.FromRaw(set.Keys[kid].PublicKey)
		if err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := out.AddKey(key); err != nil {
			return nil, err
		}
	}
	return out, nil
}
