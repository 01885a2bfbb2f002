package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

type RBACAuthorization struct {
	verifier   TokenVerifier
	authorizer PermissionChecker
	logger     *slog.Logger
}

func NewRBACAuthorization(verifier TokenVerifier, authorizer PermissionChecker, logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{
		verifier:   verifier,
		authorizer: authorizer,
		logger:     logger,
	}
}

// Authenticate resolves the bearer token into an Operator on the request context.
func (ra *RBACAuthorization) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, internal.NewUnauthorizedError("missing bearer token", internal.ErrCodeInvalidToken))
			return
		}

		claims, err := ra.verifier.ValidateToken(token)
		if err != nil {
			ra.logger.WarnContext(r.Context(), "operator token rejected", "error", err)
			writeError(w, internal.NewUnauthorizedError(err.Error(), internal.ErrCodeInvalidToken))
			return
		}

		op := claims.Operator()
		ctx := ContextWithOperator(r.Context(), op)
		ctx = internal.ContextWithOperatorID(ctx, op.ID)
		ctx = logger.With(ctx, "operator_id", op.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (ra *RBACAuthorization) Check(next http.HandlerFunc, permission string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := OperatorFromContext(r.Context())
		if !ok || op == nil {
			ra.logger.Warn("authorization check failed: operator not found in context")
			writeError(w, internal.NewUnauthorizedError("unauthorized", internal.ErrCodeInvalidToken))
			return
		}

		hasAccess, err := ra.authorizer.HasPermission(r.Context(), op.Permissions, permission)
		if err != nil {
			ra.logger.ErrorContext(r.Context(), "authorization check failed", "error", err, "operator_id", op.ID, "permission", permission)
			writeError(w, internal.NewInternalError("internal server error", err))
			return
		}

		if !hasAccess {
			ra.logger.WarnContext(r.Context(), "access denied: insufficient permissions",
				"operator_id", op.ID,
				"required_permission", permission,
				"operator_permissions", op.Permissions)
			writeError(w, internal.NewForbiddenError("insufficient permissions", internal.ErrCodeForbidden))
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (ra *RBACAuthorization) Middleware(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ra.Authenticate(ra.Check(next.ServeHTTP, permission))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

func writeError(w http.ResponseWriter, appErr *internal.AppError) {
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
