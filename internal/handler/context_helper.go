package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gradebook/internal/middleware"
	"github.com/noah-isme/sma-gradebook/pkg/middleware/requestid"
)

// actorFields describes the caller for audit log lines.
func actorFields(c *gin.Context) []zap.Field {
	fields := []zap.Field{zap.String("request_id", requestid.Value(c))}
	if claims := middleware.Claims(c); claims != nil {
		fields = append(fields, zap.String("user_id", claims.UserID), zap.String("role", string(claims.Role)))
	}
	return fields
}

// canAdminister reports whether the caller may run administrative workflow actions.
func canAdminister(c *gin.Context) bool {
	return middleware.Claims(c).Administers()
}
