package middleware

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	appLogger *log.Logger
)

// InitLogger initializes file-based logging with rotation. Everything the
// engine and API log goes to one rotated file plus stdout.
func InitLogger(logDir string) error {
	absLogDir, err := filepath.Abs(logDir)
	if err != nil {
		absLogDir = logDir
	}

	if err := os.MkdirAll(absLogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", absLogDir, err)
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(absLogDir, "arena.log"),
		MaxSize:    20, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
		LocalTime:  true,
	}

	appLogger = log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags)

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags)

	appLogger.Printf("[INFO] Logger initialized, log directory: %s", absLogDir)
	return nil
}

// LogInfo logs info level messages
func LogInfo(format string, v ...interface{}) {
	if appLogger != nil {
		appLogger.Printf("[INFO] "+format, v...)
	} else {
		log.Printf("[INFO] "+format, v...)
	}
}

// LogError logs error level messages
func LogError(format string, v ...interface{}) {
	if appLogger != nil {
		appLogger.Printf("[ERROR] "+format, v...)
	} else {
		log.Printf("[ERROR] "+format, v...)
	}
}

// LogDebug logs debug level messages
func LogDebug(format string, v ...interface{}) {
	if appLogger != nil {
		appLogger.Printf("[DEBUG] "+format, v...)
	} else {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// RequestLoggerMiddleware logs every request as METHOD URL | status | latency
func RequestLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		fullURL := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			fullURL = fullURL + "?" + c.Request.URL.RawQuery
		}

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		if statusCode >= 400 {
			LogError("%s %s | status=%d | latency=%v",
				c.Request.Method, fullURL, statusCode, latency)
		} else {
			LogInfo("%s %s | status=%d | latency=%v",
				c.Request.Method, fullURL, statusCode, latency)
		}
	}
}
