package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/erp/paymentalloc/internal/infrastructure/auth"
	"github.com/erp/paymentalloc/internal/infrastructure/logger"
	"github.com/erp/paymentalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenVerifier validates a bearer token
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// JWTAuth rejects requests without a valid bearer token and stores the
// claims on the context.
func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(header, BearerPrefix) || strings.TrimPrefix(header, BearerPrefix) == "" {
			abortUnauthorized(c, auth.ErrInvalidToken)
			return
		}

		claims, err := verifier.Verify(strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		c.Set(JWTClaimsKey, claims)
		logger.L(c.Request.Context()).Debug("operator authenticated",
			zap.String("subject", claims.Subject),
			zap.String("actor", claims.Actor()),
		)
		c.Next()
	}
}

// RequirePermission aborts with 403 unless the authenticated token grants
// perm. Requests that did not pass through JWTAuth are rejected with 401.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			abortUnauthorized(c, auth.ErrInvalidToken)
			return
		}
		if !claims.HasPermission(perm) {
			logger.L(c.Request.Context()).Warn("permission denied",
				zap.String("actor", claims.Actor()),
				zap.String("permission", perm),
				zap.String("path", c.FullPath()),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Missing permission "+perm, GetRequestID(c)))
			return
		}
		c.Next()
	}
}

// GetJWTClaims returns the claims stored by JWTAuth, or nil
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(JWTClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetActor returns the authenticated principal's name, or ""
func GetActor(c *gin.Context) string {
	if claims := GetJWTClaims(c); claims != nil {
		return claims.Actor()
	}
	return ""
}

func abortUnauthorized(c *gin.Context, err error) {
	code, msg := dto.ErrCodeUnauthorized, "Authentication required"
	if errors.Is(err, auth.ErrExpiredToken) {
		code, msg = dto.ErrCodeTokenExpired, "Token has expired"
	}
	logger.L(c.Request.Context()).Warn("authentication failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
	)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, msg, GetRequestID(c)))
}
