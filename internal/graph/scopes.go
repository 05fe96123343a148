package graph

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/graphwatch/graphwatch/internal/pkg/ctxlog"
)

// LogTokenScopes decodes a delegated token without verification and logs its
// granted scopes. Strictly advisory: decode failures never affect the caller.
func LogTokenScopes(ctx context.Context, token string) {
	logger := ctxlog.FromContext(ctx)

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		logger.Debug("could not decode token scopes", "error", err)
		return
	}

	if scp, ok := claims["scp"]; ok {
		logger.Info("delegated token scopes", "scp", scp)
		return
	}
	if roles, ok := claims["roles"]; ok {
		logger.Info("delegated token roles", "roles", roles)
		return
	}
	logger.Debug("delegated token has no scp or roles claim")
}
