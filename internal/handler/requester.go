package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-timetable-api/internal/middleware"
	"github.com/noah-isme/college-timetable-api/internal/models"
)

// requesterClaims returns the timetable requester's JWT claims as stored by the
// auth middleware, or nil on routes served without a token. Timetable services
// give a nil requester published-only visibility.
func requesterClaims(c *gin.Context) *models.JWTClaims {
	value, _ := c.Get(middleware.ContextUserKey)
	claims, _ := value.(*models.JWTClaims)
	return claims
}
