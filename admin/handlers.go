package admin

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/tripguard/auth"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/featureflag"
	"github.com/ceyewan/tripguard/xerrors"
)

const defaultManualLimit = 50

var killSwitchFlags = []string{
	featureflag.FlagGlobalKillSwitch,
	featureflag.FlagAutoBookingKillSwitch,
	featureflag.FlagUserKillSwitch,
	featureflag.FlagPaymentKillSwitch,
	featureflag.FlagDuffelKillSwitch,
}

func (s *Server) healthz(c *gin.Context) {
	checks := make(map[string]string, len(s.deps.Health))
	healthy := true
	for _, h := range s.deps.Health {
		if err := h.HealthCheck(c.Request.Context()); err != nil {
			healthy = false
			checks[h.Name()] = err.Error()
			continue
		}
		checks[h.Name()] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}

func (s *Server) listBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.deps.Breakers.AllMetrics()})
}

func (s *Server) getBreaker(c *gin.Context) {
	cb, ok := s.deps.Breakers.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "breaker not found"})
		return
	}
	c.JSON(http.StatusOK, cb.Metrics())
}

func (s *Server) resetBreaker(c *gin.Context) {
	name := c.Param("name")
	if !s.deps.Breakers.Reset(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "breaker not found"})
		return
	}
	s.audit(c, "circuit breaker reset by operator", clog.String("breaker", name))
	cb, _ := s.deps.Breakers.Lookup(name)
	c.JSON(http.StatusOK, cb.Metrics())
}

func (s *Server) resetAllBreakers(c *gin.Context) {
	s.deps.Breakers.ResetAll()
	s.audit(c, "all circuit breakers reset by operator")
	c.JSON(http.StatusOK, gin.H{"breakers": s.deps.Breakers.AllMetrics()})
}

func (s *Server) listCompensations(c *gin.Context) {
	if s.deps.Compensations == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "compensation store not configured"})
		return
	}
	logs, err := s.deps.Compensations.ListCompensationLogs(c.Request.Context(), c.Param("tripRequestId"))
	if err != nil {
		s.internalError(c, "list compensation logs failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"compensations": logs})
}

func (s *Server) listManualInterventions(c *gin.Context) {
	if s.deps.Compensations == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "compensation store not configured"})
		return
	}
	limit := defaultManualLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	logs, err := s.deps.Compensations.ListManualInterventions(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "list manual interventions failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"compensations": logs})
}

func (s *Server) killSwitchStatus(c *gin.Context) {
	if s.deps.KillSwitch == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "kill switch not configured"})
		return
	}
	c.JSON(http.StatusOK, s.deps.KillSwitch.SystemStatus(c.Request.Context(), c.Query("user_id")))
}

func (s *Server) canAutoBook(c *gin.Context) {
	if s.deps.KillSwitch == nil {
		c.JSON(http.StatusOK, gin.H{"can_proceed": true})
		return
	}
	err := s.deps.KillSwitch.CanProceedWithAutoBooking(c.Request.Context(), c.Query("user_id"))
	var disabled *featureflag.DisabledError
	if errors.As(err, &disabled) {
		c.Header("Retry-After", strconv.Itoa(int(disabled.RetryAfter.Seconds())))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"can_proceed": false,
			"code":        disabled.Code(),
			"error":       "Auto-booking temporarily disabled",
			"components":  disabled.Components,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_proceed": true})
}

type setFlagRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	UserID  string `json:"user_id"`
}

func (s *Server) setKillSwitch(c *gin.Context) {
	if s.deps.Flags == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "flag store not configured"})
		return
	}
	flag := c.Param("flag")
	if !slices.Contains(killSwitchFlags, flag) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown kill switch"})
		return
	}
	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID != "" && flag != featureflag.FlagUserKillSwitch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is only valid for " + featureflag.FlagUserKillSwitch})
		return
	}

	if err := s.deps.Flags.SetFlag(c.Request.Context(), flag, req.UserID, *req.Enabled); err != nil {
		s.internalError(c, "set kill switch failed", err)
		return
	}
	s.audit(c, "kill switch updated by operator",
		clog.String("flag", flag), clog.String("user_id", req.UserID), clog.Bool("enabled", *req.Enabled))
	c.JSON(http.StatusOK, gin.H{"flag": flag, "user_id": req.UserID, "enabled": *req.Enabled})
}

func (s *Server) audit(c *gin.Context, msg string, fields ...clog.Field) {
	if claims, ok := auth.GetClaims(c); ok {
		fields = append(fields, clog.String("operator", claims.Subject))
	}
	s.logger.WarnContext(c.Request.Context(), msg, fields...)
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.ErrorContext(c.Request.Context(), msg, clog.Error(err))
	status := http.StatusInternalServerError
	if errors.Is(err, xerrors.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": msg})
}
