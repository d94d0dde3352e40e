package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/query"
	"invest-calendar/internal/middleware/logger"
)

// Server 只读查询接口
type Server struct {
	Log   *zap.Logger
	Query *query.Service
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Gin(s.Log))

	r.GET("/events", s.eventsByDate)        // ?date=YYYY-MM-DD，缺省今天
	r.GET("/events/range", s.eventsByRange) // ?start=&end=
	r.GET("/events/new", s.newEvents)       // ?since=，缺省今天
	r.GET("/platforms", s.listPlatforms)
	r.GET("/platforms/:platform/events", s.eventsByPlatform)
	r.GET("/status", s.status)
	return r
}

func (s *Server) eventsByDate(c *gin.Context) {
	date := c.DefaultQuery("date", s.Query.Today())
	events, err := s.Query.ByDate(c, date)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "total": len(events), "data": events})
}

func (s *Server) eventsByRange(c *gin.Context) {
	start, end := c.Query("start"), c.Query("end")
	if start == "" || end == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start and end are required"})
		return
	}
	events, err := s.Query.ByDateRange(c, start, end)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "total": len(events), "data": events})
}

func (s *Server) newEvents(c *gin.Context) {
	since := c.DefaultQuery("since", s.Query.Today())
	events, err := s.Query.NewSince(c, since)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "total": len(events), "data": events})
}

func (s *Server) listPlatforms(c *gin.Context) {
	out := make([]gin.H, 0, len(s.Query.Platforms))
	for _, p := range s.Query.Platforms {
		out = append(out, gin.H{"platform": p, "display_name": p.DisplayName()})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) eventsByPlatform(c *gin.Context) {
	p, ok := model.ParsePlatform(c.Param("platform"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform: " + c.Param("platform")})
		return
	}
	events, err := s.Query.ByPlatform(c, p)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform": p, "total": len(events), "data": events})
}

func (s *Server) status(c *gin.Context) {
	st, err := s.Query.Status(c)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
