package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"fleet-policy/pkg/auth"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// pathID parses the {id} segment of a route; ok is false for non-numeric ids.
func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// protected wraps a handler with the auth check.
func protected(authz func(r *http.Request) bool, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}

// AuthFuncJWT validates a Bearer token against the JWT layer.
func AuthFuncJWT(r *http.Request) bool {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(h, "Bearer ")
	_, err := auth.Parse(token)
	return err == nil
}

// AllowAll disables auth; used by tests and by deployments fronted by
// an authenticating proxy.
func AllowAll(_ *http.Request) bool { return true }
