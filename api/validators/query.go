package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
)

func paramError(msg, key string, extra map[string]any) *pkgerrors.Error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// ParseQueryInt reads an optional integer query parameter bounded to [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, paramError("query parameter must be numeric", key, nil)
	}
	if value < min || value > max {
		return 0, paramError("query parameter out of range", key, map[string]any{"min": min, "max": max})
	}
	return value, nil
}

// QueryParam returns an optional, sanitized query value. Values longer than
// maxLen are rejected rather than cut.
func QueryParam(r *http.Request, key string, maxLen int) (string, error) {
	value := SanitizeString(r.URL.Query().Get(key), 0)
	if maxLen > 0 && len(value) > maxLen {
		return "", paramError("query parameter too long", key, map[string]any{"max": maxLen})
	}
	return value, nil
}

// PathParam returns the trimmed chi route parameter, rejecting blank or oversized values.
func PathParam(r *http.Request, key string, maxLen int) (string, error) {
	value := strings.TrimSpace(chi.URLParam(r, key))
	if value == "" {
		return "", paramError("path parameter is required", key, nil)
	}
	if maxLen > 0 && len(value) > maxLen {
		return "", paramError("path parameter too long", key, map[string]any{"max": maxLen})
	}
	return value, nil
}
