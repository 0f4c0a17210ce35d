package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SecurityMiddleware adds response security headers. CORS itself is handled
// upstream by gin-contrib/cors, so this middleware's job is narrowed to the
// headers that don't overlap with it.
type SecurityMiddleware struct {
	logger        *zap.Logger
	enableHSTS    bool
	hstsMaxAge    int
	enableCSP     bool
	cspDirectives string
}

// SecurityConfig holds security middleware configuration
type SecurityConfig struct {
	EnableHSTS    bool
	HSTSMaxAge    int
	EnableCSP     bool
	CSPDirectives string
}

// DefaultSecurityConfig returns default security configuration
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		EnableHSTS:    true,
		HSTSMaxAge:    31536000, // 1 year
		EnableCSP:     true,
		CSPDirectives: "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'",
	}
}

// NewSecurityMiddleware creates a new security middleware
func NewSecurityMiddleware(logger *zap.Logger, config *SecurityConfig) *SecurityMiddleware {
	return &SecurityMiddleware{
		logger:        logger,
		enableHSTS:    config.EnableHSTS,
		hstsMaxAge:    config.HSTSMaxAge,
		enableCSP:     config.EnableCSP,
		cspDirectives: config.CSPDirectives,
	}
}

// Handle applies security response headers.
func (m *SecurityMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.addSecurityHeaders(c)
		c.Next()
	}
}

// addSecurityHeaders adds security-related headers
func (m *SecurityMiddleware) addSecurityHeaders(c *gin.Context) {
	// Prevent clickjacking
	c.Header("X-Frame-Options", "DENY")
	
	// Prevent MIME type sniffing
	c.Header("X-Content-Type-Options", "nosniff")
	
	// Enable XSS protection
	c.Header("X-XSS-Protection", "1; mode=block")
	
	// Referrer policy
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	
	// HSTS (HTTP Strict Transport Security)
	if m.enableHSTS {
		c.Header("Strict-Transport-Security",
			"max-age="+strconv.Itoa(m.hstsMaxAge)+"; includeSubDomains; preload")
	}
	
	// Content Security Policy
	if m.enableCSP {
		c.Header("Content-Security-Policy", m.cspDirectives)
	}
	
	// Permission policy (formerly Feature Policy)
	c.Header("Permissions-Policy", 
		"camera=(), microphone=(), geolocation=(), payment=()")
}
