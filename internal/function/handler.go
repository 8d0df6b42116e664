package function

import (
	"net/http"

	httperr "github.com/aevon-lab/aevon-profiler/internal/core/errors"
	"github.com/gin-gonic/gin"
)

type functionView struct {
	Info
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// RegisterRoutes exposes function metadata.
func (r *Registry) RegisterRoutes(router gin.IRouter) {
	router.GET("/v1/functions", r.handleList)
	router.GET("/v1/functions/:name", r.handleGet)
}

func (r *Registry) handleList(c *gin.Context) {
	names := r.Functions()
	out := make([]functionView, 0, len(names))
	for _, name := range names {
		if f, err := r.Lookup(name); err == nil {
			out = append(out, view(f))
		}
	}
	c.JSON(http.StatusOK, gin.H{"functions": out})
}

func (r *Registry) handleGet(c *gin.Context) {
	f, err := r.Lookup(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, view(f))
}

func view(f *Function) functionView {
	v := functionView{Info: f.Info(), State: f.State().String()}
	if err := f.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}
