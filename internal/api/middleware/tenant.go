package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/julienschmidt/httprouter"

	apiContext "waygate/internal/api/context"
	"waygate/internal/pkg/errors"
)

// Tenant ids name credential directories on disk, so the accepted alphabet
// is deliberately narrow.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// TenantMiddleware extracts and validates the tenant id from the route and
// stores it in the request context.
type TenantMiddleware struct{}

func NewTenantMiddleware() *TenantMiddleware {
	return &TenantMiddleware{}
}

func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := r.Context().Value(apiContext.Params).(httprouter.Params)
		if !ok {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "No route parameters", nil)
			return
		}

		tenantID := params.ByName("tenant_id")
		if !tenantIDPattern.MatchString(tenantID) {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
				"Tenant id must be 1-64 characters of letters, digits, '-' or '_'", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Tenant, tenantID)
		next(w, r.WithContext(ctx))
	}
}

// TenantID pulls the validated tenant id out of a request context.
func TenantID(r *http.Request) string {
	id, _ := r.Context().Value(apiContext.Tenant).(string)
	return id
}
