package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rcabanilla/labreserve/internal/service/status"
)

type ResourceHandler struct {
	statuses status.StatusUseCase
}

func NewResourceHandler(statuses status.StatusUseCase) *ResourceHandler {
	return &ResourceHandler{statuses: statuses}
}

func (h *ResourceHandler) Register(router *gin.RouterGroup) {
	router.GET("/", h.fleet)
	router.GET("/:id/status", h.status)
}

func (h *ResourceHandler) fleet(c *gin.Context) {
	views, err := h.statuses.FleetStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": views})
}

func (h *ResourceHandler) status(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resource id"})
		return
	}

	view, err := h.statuses.ResourceStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
