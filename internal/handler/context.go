package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Sachin844123/student-appointment-api/internal/middleware"
	"github.com/Sachin844123/student-appointment-api/internal/models"
)

// currentUser extracts the authenticated claims from the gin context.
func currentUser(c *gin.Context) (*models.JWTClaims, bool) {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok
}
