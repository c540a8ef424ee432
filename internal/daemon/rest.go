package daemon

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heliograph/dfms/pkg/errkind"
)

// NewRouter exposes d's supervisory surface over gin, per spec.md §6's
// `GET/POST /managers/{node,dataisland,master}` summary: POST spawns (409 on
// duplicate), GET reports `{pid}` or 404 when not running.
func NewRouter(d *Daemon) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	for _, kind := range []Kind{KindNode, KindDataIsland, KindMaster} {
		kind := kind
		path := "/managers/" + string(kind)

		r.POST(path, func(c *gin.Context) {
			var body struct {
				Args []string `json:"args"`
			}
			_ = c.ShouldBindJSON(&body)

			pid, err := d.StartManager(kind, body.Args)
			if err != nil {
				if errkind.Is(err, errkind.KindInvalidState) {
					c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
					return
				}
				c.JSON(errkind.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"pid": pid})
		})

		r.GET(path, func(c *gin.Context) {
			pid, running := d.ManagerInfo(kind)
			if !running {
				c.Status(http.StatusNotFound)
				return
			}
			c.JSON(http.StatusOK, gin.H{"pid": pid})
		})

		r.DELETE(path, func(c *gin.Context) {
			if err := d.StopManager(kind); err != nil {
				c.JSON(errkind.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusOK)
		})
	}

	return r
}
