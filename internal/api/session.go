package api

import (
	"github.com/gin-gonic/gin"
)

// session upgrades to the interactive generation protocol. The hub rejects a
// second session for a request that already has one, before the upgrade.
func (s *Server) session(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.sessions.Serve(c.Writer, c.Request, id); err != nil {
		abortWithError(c, err)
	}
}
