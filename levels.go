package autoprobe

import (
	"log/slog"
	"strings"
)

const (
	LevelDevelop = slog.Level(-8) // development only, disabled in deployed probes
	LevelDebug   = slog.Level(-4)
	LevelInfo    = slog.Level(0)
	LevelNotice  = slog.Level(2)
	LevelWarning = slog.Level(4)
	LevelError   = slog.Level(8)
	LevelFatal   = slog.Level(12)
)

// StringToLevel maps a configured level name to its slog.Level. Unknown names map to debug.
func StringToLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "develop":
		return LevelDevelop
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "notice":
		return LevelNotice
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelDebug
	}
}

// LevelName is the name a level is logged as.
func LevelName(level slog.Level) string {
	switch level {
	case LevelDevelop:
		return "DEVELOP"
	case LevelInfo:
		return "INFO"
	case LevelNotice:
		return "NOTICE"
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERR"
	case LevelFatal:
		return "FATAL"
	default:
		return "DEBUG"
	}
}

// Severities attached to logged errors.
const (
	// the probe carries on, one field or one event is affected
	SeverityLowest string = "lowest"
	// one hook invocation was abandoned
	SeverityLow string = "low"
	// instrumentation of the target is degraded until something changes
	SeverityMedium string = "medium"
	// the probe cannot instrument the target, the deployment needs fixing
	SeverityHigh string = "high"
	// the probe cannot run
	SeverityHighest string = "highest"
)
