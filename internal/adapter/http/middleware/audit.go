package middleware

import (
	"net/http"
	"strings"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// BusinessHours is a UTC hour window, Start inclusive and End exclusive.
// A window with Start > End wraps midnight; Start == End means always open.
type BusinessHours struct {
	Start int
	End   int
}

// Contains reports whether t falls inside the window.
func (h BusinessHours) Contains(t time.Time) bool {
	if h.Start == h.End {
		return true
	}
	hour := t.UTC().Hour()
	if h.Start < h.End {
		return hour >= h.Start && hour < h.End
	}
	return hour >= h.Start || hour < h.End
}

// AccessAuditConfig configures DataAccessAudit.
type AccessAuditConfig struct {
	Audit          ports.AuditLogger
	IsInvestigator func(id string) bool
	Hours          BusinessHours
	Now            func() time.Time
	Log            zerolog.Logger
}

// DataAccessAudit records every successful read as a data_access entry.
// Reads outside business hours or by an actor missing from the directory
// are flagged unusual, which makes the audit trail add a security_violation
// before the response is returned.
func DataAccessAudit(cfg AccessAuditConfig) gin.HandlerFunc {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != http.MethodGet {
			return
		}
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}

		actor := Actor(c)
		var reasons []string
		if !cfg.Hours.Contains(cfg.Now()) {
			reasons = append(reasons, "outside business hours")
		}
		if cfg.IsInvestigator != nil && !cfg.IsInvestigator(actor) {
			reasons = append(reasons, "actor not in investigator directory")
		}

		details := domain.AuditDetails{
			Description: c.Request.Method + " " + c.Request.URL.Path,
			RiskLevel:   domain.RiskLow,
			IPAddress:   c.ClientIP(),
		}
		if len(reasons) > 0 {
			details.Unusual = true
			details.RiskLevel = domain.RiskMedium
			details.Description += " (" + strings.Join(reasons, ", ") + ")"
		}

		if _, err := cfg.Audit.LogEvent(c.Request.Context(), domain.AuditDataAccess, resourceOf(c), c.Param("id"), actor, details); err != nil {
			cfg.Log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("failed to audit data access")
		}
	}
}

// resourceOf maps /api/v1/<resource>/... to <resource>.
func resourceOf(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	path = strings.TrimPrefix(path, "/api/v1/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
