package logger

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config for logger
type Config struct {
	Logger *zerolog.Logger
	// UTC a boolean stating whether to use UTC time zone or local.
	UTC            bool
	SkipPath       []string
	SkipPathRegexp *regexp.Regexp
}

// GetLogger from gin context
func GetLogger(c *gin.Context) zerolog.Logger {
	if logger, ok := c.Get("_log"); ok {
		return logger.(zerolog.Logger)
	}
	return log.Logger
}

// SetLogger initializes the logging middleware.
func SetLogger(config ...Config) gin.HandlerFunc {
	var newConfig Config
	if len(config) > 0 {
		newConfig = config[0]
	}
	var skip map[string]struct{}
	if length := len(newConfig.SkipPath); length > 0 {
		skip = make(map[string]struct{}, length)
		for _, path := range newConfig.SkipPath {
			skip[path] = struct{}{}
		}
	}

	var sublog zerolog.Logger
	if newConfig.Logger == nil {
		sublog = log.Logger
	} else {
		sublog = *newConfig.Logger
	}

	return func(c *gin.Context) {
		start := time.Now()
		if newConfig.UTC {
			start = start.UTC()
		}

		path := c.Request.URL.Path
		fullPath := path
		if raw := c.Request.URL.RawQuery; raw != "" {
			fullPath = path + "?" + raw
		}

		track := true
		if _, ok := skip[path]; ok {
			track = false
		}
		if track && newConfig.SkipPathRegexp != nil && newConfig.SkipPathRegexp.MatchString(path) {
			track = false
		}

		id := xid.New().String()
		c.Writer.Header().Set("X-Request-Id", id)
		reqlogger := sublog.With().Str("request_id", id).Logger()
		c.Set("_log", reqlogger)

		c.Next()

		if !track {
			return
		}

		status := c.Writer.Status()
		msg := "Request"
		if len(c.Errors) > 0 {
			msg = c.Errors.String()
		}
		dumplogger := reqlogger.With().
			Str("method", c.Request.Method).
			Str("path", fullPath).
			Str("ip", c.ClientIP()).
			Str("user-agent", c.Request.UserAgent()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Logger()

		if val, ok := c.Get("auth_user_id"); ok {
			dumplogger = dumplogger.With().Uint64("user_id", val.(uint64)).Logger()
		}

		switch {
		case status >= http.StatusInternalServerError:
			dumplogger.Error().Msg(msg)
		case status >= http.StatusBadRequest:
			dumplogger.Warn().Msg(msg)
		case c.Request.Method != http.MethodGet:
			dumplogger.Info().Msg(msg)
		default:
			dumplogger.Debug().Msg(msg)
		}
	}
}
