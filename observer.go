// Package autoprobe holds the ambient layer shared by the probe packages: configuration loaded
// from the environment, the structured-logging Observer, log levels and severities, field names
// and redaction of values that leave the monitored process.
package autoprobe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Observer carries the loggers and the arguments stamped onto every entry.
type Observer struct {
	cfg         Configurator
	output      io.Writer
	errOutput   io.Writer
	instanceID  uuid.UUID
	outLogger   *slog.Logger
	errLogger   *slog.Logger
	stableArgs  []any
	skipCallers int
}

type observerContextKey string

var obsKeyInstance observerContextKey = "cirruscomms/autoprobe"

// Initialise sets up the Observer with the provided configuration, log outputs, and initial arguments.
// A nil cfg is loaded from the environment.
func Initialise(
	ctx context.Context,
	cfg Configurator,
	logOutput, errOutput io.Writer,
	initialArgs ...any,
) (
	ctxWithObserver context.Context,
	observer *Observer,
	fault error,
) {
	if logOutput == nil {
		logOutput = os.Stdout
	}

	if errOutput == nil {
		errOutput = os.Stderr
	}

	var err error

	if cfg == nil {
		cfg, err = LoadConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	opts := defaultOptions(cfg)
	id := uuid.New()

	o := &Observer{
		cfg:         cfg,
		output:      logOutput,
		errOutput:   errOutput,
		instanceID:  id,
		outLogger:   slog.New(slog.NewJSONHandler(logOutput, opts)).With(FieldInstanceID, id.String()),
		errLogger:   slog.New(slog.NewJSONHandler(errOutput, opts)).With(FieldInstanceID, id.String()),
		skipCallers: 3,
	}

	ctx = context.WithValue(ctx, obsKeyInstance, o)
	if len(initialArgs) != 0 {
		ctx, o, _ = Extend(ctx, initialArgs...)
	}

	slog.SetDefault(o.outLogger)

	o.Debug("Initialised observer with context")

	return ctx, o, nil
}

// Reset drops every argument added since Initialise.
func Reset(ctxWithObserver context.Context) (ctxWithResetObserver context.Context) {
	ctxWithObserver, o, err := Get(ctxWithObserver)
	if err != nil {
		return ctxWithObserver
	}

	opts := defaultOptions(o.cfg)
	o.outLogger = slog.New(slog.NewJSONHandler(o.output, opts)).With(FieldInstanceID, o.instanceID.String())
	o.errLogger = slog.New(slog.NewJSONHandler(o.errOutput, opts)).With(FieldInstanceID, o.instanceID.String())
	o.stableArgs = []any{}
	o.Debug("Observer reset")

	return context.WithValue(ctxWithObserver, obsKeyInstance, o)
}

// Get retrieves the Observer from the context.
func Get(ctx context.Context) (ctxWithObserver context.Context, observer *Observer, fault error) {
	ob := ctx.Value(obsKeyInstance)
	if ob == nil {
		return ctx, nil, fmt.Errorf("autoprobe Observer not found in context - please initialise autoprobe first")
	}

	o := ob.(*Observer)

	return ctx, o, nil
}

// Extend returns a copy of the Observer in the context with newArgs added to every entry it logs.
func Extend(ctx context.Context, newArgs ...any) (ctxWithObserver context.Context, observer *Observer, fault error) {
	ctx, o, err := Get(ctx)
	if err != nil {
		return ctx, nil, err
	}

	o = o.With(newArgs...)

	return context.WithValue(ctx, obsKeyInstance, o), o, nil
}

// With returns a copy of the Observer with args added to every entry it logs. The receiver is
// left untouched, so components can derive their own loggers from a shared Observer.
func (o *Observer) With(args ...any) (observer *Observer) {
	c := *o
	if len(args) == 0 {
		return &c
	}

	args = DeduplicateArgs(args)
	c.outLogger = o.outLogger.With(args...)
	c.errLogger = o.errLogger.With(args...)
	c.stableArgs = o.AddArgs(args...)

	return &c
}

// InstanceID identifies this probe instance in logs and exported telemetry.
func (o *Observer) InstanceID() uuid.UUID {
	return o.instanceID
}

// Config returns the configuration the Observer was initialised with.
func (o *Observer) Config() Configurator {
	return o.cfg
}

// Enabled reports whether entries at level would be written.
func (o *Observer) Enabled(level slog.Level) bool {
	return o.outLogger != nil && o.outLogger.Enabled(context.Background(), level)
}

func defaultOptions(cfg Configurator) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource:   true,
		Level:       cfg.LogLevel(),
		ReplaceAttr: defaultReplacer(cfg.TrimModules(), cfg.TrimPaths()),
	}
}

// defaultReplacer trims source locations and renders the custom levels by name.
func defaultReplacer(trimModules, trimPaths []string) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if os.Getenv("ENV") == "test" && a.Key == slog.TimeKey {
			return slog.Attr{}
		}

		switch a.Key {
		case slog.SourceKey:
			source, ok := a.Value.Any().(*slog.Source)
			if !ok {
				return a
			}

			for _, path := range trimPaths {
				if idx := strings.Index(source.File, path); idx != -1 {
					source.File = source.File[idx+len(path):]
				}
			}

			for _, module := range trimModules {
				if idx := strings.Index(source.Function, module); idx != -1 {
					source.Function = source.Function[idx+len(module):]
				}
			}

			return slog.Any(a.Key, source)
		case slog.LevelKey:
			level, ok := a.Value.Any().(slog.Level)
			if !ok {
				level = StringToLevel(fmt.Sprintf("%v", a.Value.Any()))
			}

			a.Value = slog.StringValue(LevelName(level))
		}

		return a
	}
}

func (o *Observer) write(logger *slog.Logger, skipCallers int, level slog.Level, msg string, args ...any) (levelEnabled bool) {
	ctx := context.Background()
	if logger == nil || !logger.Enabled(ctx, level) {
		return false
	}

	var pcs [1]uintptr
	// skip [runtime.Callers, this function, the level method]
	runtime.Callers(skipCallers, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])

	if len(args) != 0 {
		r.Add(DeduplicateArgs(args)...)
	}

	_ = logger.Handler().Handle(ctx, r)

	return true
}

func (o *Observer) log(skipCallers int, level slog.Level, msg string, args ...any) bool {
	return o.write(o.outLogger, skipCallers+1, level, msg, args...)
}

func (o *Observer) error(skipCallers int, level slog.Level, msg string, args ...any) bool {
	return o.write(o.errLogger, skipCallers+1, level, msg, args...)
}

// AddArgs merges args into the stable arguments, later values replacing earlier ones.
func (o *Observer) AddArgs(args ...any) (filteredArgs []any) {
	merged := make([]any, 0, len(o.stableArgs)+len(args))
	merged = append(merged, args...)
	merged = append(merged, o.stableArgs...)

	return DeduplicateArgs(merged)
}

// DeduplicateArgs drops repeated keys from a slog argument list. The first occurrence of a key
// wins and the order of first occurrences is kept.
func DeduplicateArgs(args []any) (deduplicated []any) {
	seen := make(map[string]struct{}, len(args)/2)
	out := make([]any, 0, len(args))

	for i := 0; i < len(args); {
		switch k := args[i].(type) {
		case slog.Attr:
			if _, ok := seen[k.Key]; !ok {
				seen[k.Key] = struct{}{}
				out = append(out, k)
			}
			i++
		case string:
			if i+1 >= len(args) {
				out = append(out, k)
				i++
				continue
			}
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k, args[i+1])
			}
			i += 2
		default:
			out = append(out, k)
			i++
		}
	}

	return out
}

// InContext reports whether an Observer has been added to ctx.
func InContext(ctx context.Context) (response bool) {
	return ctx.Value(obsKeyInstance) != nil
}

// IncreaseDistance increases the caller skip distance, for wrappers around the Observer.
func (o *Observer) IncreaseDistance(distance int) {
	o.skipCallers += distance
}

// AddToContext adds the Observer to the provided context.
func AddToContext(ctx context.Context, o *Observer) context.Context {
	return context.WithValue(ctx, obsKeyInstance, o)
}
