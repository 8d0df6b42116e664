package projection

import (
	"errors"
	"net/http"
	"time"

	httperr "github.com/aevon-lab/aevon-profiler/internal/core/errors"
	"github.com/aevon-lab/aevon-profiler/internal/stats"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/profiles", s.HandleListProfiles)
	r.GET("/v1/profiles/:profile/entities/:entity", s.HandleQueryProfile)
}

// HandleListProfiles handles GET /v1/profiles
func (s *Service) HandleListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": s.Profiles()})
}

// HandleQueryProfile handles GET /v1/profiles/:profile/entities/:entity
// Query parameters: start, end (RFC3339)
func (s *Service) HandleQueryProfile(c *gin.Context) {
	var uri struct {
		Profile string `uri:"profile" binding:"required"`
		Entity  string `uri:"entity" binding:"required"`
	}
	var query struct {
		Start time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End   time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	}

	// Bind URI parameters (profile, entity)
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	// Bind query parameters (start, end)
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	req := ProfileQueryRequest{
		Profile: uri.Profile,
		Entity:  uri.Entity,
		Start:   query.Start,
		End:     query.End,
	}

	resp, err := s.Query(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownProfile):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "Profile not found",
				Details:   err.Error(),
			})
		case errors.Is(err, ErrInvalidQuery):
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   "Invalid profile query",
				Details:   err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to read profile",
				Details:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// render makes a decoded value JSON friendly.
func render(v any) any {
	sk, ok := v.(*stats.Sketch)
	if !ok {
		return v
	}
	out := SketchSummary{Count: sk.Count(), Sum: sk.Sum()}
	if sk.Count() == 0 {
		return out
	}
	out.Mean = sk.Mean()
	out.P50, _ = sk.Percentile(50)
	out.P90, _ = sk.Percentile(90)
	out.P99, _ = sk.Percentile(99)
	return out
}
