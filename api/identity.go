package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rcabanilla/labreserve/internal/service/reservation"
)

const (
	headerRequesterID   = "X-Requester-ID"
	headerRequesterRole = "X-Requester-Role"

	roleOperator = "operator"

	actorKey = "actor"
)

// Identity reads the caller identity set by the auth front. Authentication
// itself is outside this service; these headers are its contract.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(headerRequesterID)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + headerRequesterID + " header"})
			return
		}
		c.Set(actorKey, reservation.Actor{
			ID:       id,
			Operator: c.GetHeader(headerRequesterRole) == roleOperator,
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) reservation.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(reservation.Actor); ok {
			return actor
		}
	}
	return reservation.Actor{}
}
