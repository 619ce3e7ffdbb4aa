package httpapi

import (
	"bytes"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// loggingLineWriter logs complete NDJSON lines of a streamed completion.
type loggingLineWriter struct {
	buf []byte
	rid string
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(lw.buf[:idx])
		if len(line) > 0 {
			if zlog != nil {
				zlog.Debug().Str("request_id", lw.rid).Str("line", line).Msg("stream")
			} else {
				log.Printf("complete> %s", line)
			}
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error", "warn":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("LOCALINFER_LOG_LEVEL"))

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logStart and logEnd bracket a session call at the request's log level.
func logStart(r *http.Request, lvl LogLevel, op, model string) {
	if lvl < LevelInfo {
		return
	}
	if zlog == nil {
		log.Printf("%s start path=%s model=%s", op, r.URL.Path, model)
		return
	}
	z := zlog.Info().Str("path", r.URL.Path).Str("model", model)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	z.Msg(op + " start")
}

func logEnd(r *http.Request, lvl LogLevel, op string, status int, start time.Time, err error) {
	if lvl < LevelInfo && (lvl < LevelError || err == nil) {
		return
	}
	if zlog == nil {
		log.Printf("%s end status=%d dur=%s err=%v", op, status, time.Since(start), err)
		return
	}
	z := zlog.Info()
	if err != nil && status >= http.StatusInternalServerError {
		z = zlog.Error()
	}
	z = z.Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg(op + " end")
}
