package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/pkg/response"
)

// paramID parses the named path parameter and writes a 400 when it is not an id.
func paramID(c *gin.Context, name, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+what+" id")
		return 0, false
	}
	return uint(id), true
}
