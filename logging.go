package autoprobe

import (
	"context"
	"os"
)

// Develop logs a development-only message.
func (o *Observer) Develop(msg string, ephemeralArgs ...any) {
	o.log(o.skipCallers, LevelDevelop, msg, ephemeralArgs...)
}

// Debug logs a debug message.
func (o *Observer) Debug(msg string, ephemeralArgs ...any) {
	o.log(o.skipCallers, LevelDebug, msg, ephemeralArgs...)
}

// Info logs an informational message.
func (o *Observer) Info(msg string, ephemeralArgs ...any) {
	o.log(o.skipCallers, LevelInfo, msg, ephemeralArgs...)
}

// Notice logs a notice message.
func (o *Observer) Notice(msg string, ephemeralArgs ...any) {
	o.log(o.skipCallers, LevelNotice, msg, ephemeralArgs...)
}

// Warning logs a warning message.
func (o *Observer) Warning(msg string, ephemeralArgs ...any) {
	o.log(o.skipCallers, LevelWarning, msg, ephemeralArgs...)
}

// Warn is an alias for Warning.
func (o *Observer) Warn(msg string, ephemeralArgs ...any) {
	o.log(o.skipCallers, LevelWarning, msg, ephemeralArgs...)
}

// Error logs err with a severity to the error output.
func (o *Observer) Error(msg string, err error, severity string, ephemeralArgs ...any) {
	ephemeralArgs = append(ephemeralArgs, FieldError, errString(err), FieldSeverity, severity)
	o.error(o.skipCallers, LevelError, msg, ephemeralArgs...)
}

// Fatal logs err with the highest severity and exits.
func (o *Observer) Fatal(msg string, err error, ephemeralArgs ...any) {
	ephemeralArgs = append(ephemeralArgs, FieldError, errString(err), FieldSeverity, SeverityHighest)
	o.error(o.skipCallers, LevelFatal, msg, ephemeralArgs...)
	os.Exit(1)
}

// Fatal is intended to be called before the observer has been configured.
// It logs to stderr in the Observer's JSON format and exits.
func Fatal(msg string, err error, ephemeralArgs ...any) {
	cfg := CreateConfig(LevelInfo, "", "", "", []string{}, []string{})

	_, o, _ := Initialise(context.Background(), cfg, os.Stderr, os.Stderr)
	ephemeralArgs = append(ephemeralArgs, FieldError, errString(err), FieldSeverity, SeverityHighest)
	o.error(o.skipCallers, LevelFatal, msg, ephemeralArgs...)
	os.Exit(1)
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
