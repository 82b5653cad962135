package autoprobe

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Configurator is the read-only view of the configuration the probe packages depend on.
type Configurator interface {
	LogLevel() slog.Level
	OtelURL() string
	DatabaseURL() string
	ServiceName() string
	TrimModules() []string
	TrimPaths() []string
	OffsetsFile() string
	TargetRuntimeVersion() string
	TargetPID() int
	RegisterABI() RegisterABIMode
	PropagateHeaders() bool
	EventBufferSize() int
	ExecutionUnits() int
	AllocRegion() (start, size uint64)
	MetricsAddress() string
}

// RegisterABIMode overrides the calling convention derived from the target runtime version.
type RegisterABIMode string

const (
	RegisterABIAuto RegisterABIMode = "auto"
	RegisterABIOn   RegisterABIMode = "on"
	RegisterABIOff  RegisterABIMode = "off"
)

// environment is what LoadConfig reads.
type environment struct {
	LogLevel         string   `env:"LOG_LEVEL" envDefault:"info"`
	OtelURL          string   `env:"OTEL_URL"`
	DBConnStr        string   `env:"DB_CONN_STR"`
	ServiceName      string   `env:"SERVICE_NAME" envDefault:"autoprobe"`
	TrimModules      []string `env:"TRIM_MODULES" envSeparator:","`
	TrimPaths        []string `env:"TRIM_PATHS" envSeparator:","`
	OffsetsFile      string   `env:"OFFSETS_FILE"`
	RuntimeVersion   string   `env:"TARGET_RUNTIME_VERSION"`
	TargetPID        int      `env:"TARGET_PID"`
	RegisterABI      string   `env:"REGISTER_ABI" envDefault:"auto"`
	PropagateHeaders bool     `env:"PROPAGATE_HEADERS" envDefault:"true"`
	EventBufferSize  int      `env:"EVENT_BUFFER_SIZE" envDefault:"1024"`
	ExecutionUnits   int      `env:"EXECUTION_UNITS"`
	AllocStart       address  `env:"ALLOC_REGION_START" envDefault:"0"`
	AllocSize        address  `env:"ALLOC_REGION_SIZE" envDefault:"1048576"`
	MetricsAddress   string   `env:"METRICS_ADDR" envDefault:":9464"`
}

// address is an unsigned value accepted in decimal, hex (0x) or octal (0o) notation.
type address uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *address) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return err
	}

	*a = address(v)

	return nil
}

// Configuration implements Configurator.
type Configuration struct {
	logLevel         slog.Level
	otelURL          string
	dbConStr         string
	serviceName      string
	trimModules      []string
	trimPaths        []string
	offsetsFile      string
	runtimeVersion   string
	targetPID        int
	registerABI      RegisterABIMode
	propagateHeaders bool
	eventBufferSize  int
	executionUnits   int
	allocStart       uint64
	allocSize        uint64
	metricsAddress   string
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (configuration *Configuration, fault error) {
	e := environment{}
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("could not parse environment: %w", err)
	}

	cfg := &Configuration{
		logLevel:         StringToLevel(e.LogLevel),
		otelURL:          e.OtelURL,
		dbConStr:         e.DBConnStr,
		serviceName:      e.ServiceName,
		trimModules:      e.TrimModules,
		trimPaths:        e.TrimPaths,
		offsetsFile:      e.OffsetsFile,
		runtimeVersion:   e.RuntimeVersion,
		targetPID:        e.TargetPID,
		registerABI:      RegisterABIMode(strings.ToLower(e.RegisterABI)),
		propagateHeaders: e.PropagateHeaders,
		eventBufferSize:  e.EventBufferSize,
		executionUnits:   e.ExecutionUnits,
		allocStart:       uint64(e.AllocStart),
		allocSize:        uint64(e.AllocSize),
		metricsAddress:   e.MetricsAddress,
	}

	if cfg.executionUnits == 0 {
		cfg.executionUnits = runtime.NumCPU()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// CreateConfig builds a configuration without reading the environment, with probe defaults
// for everything not passed in.
func CreateConfig(logLevel slog.Level, otelURL, dbConStr, serviceName string, trimModules, trimPaths []string) *Configuration {
	return &Configuration{
		logLevel:         logLevel,
		otelURL:          otelURL,
		dbConStr:         dbConStr,
		serviceName:      serviceName,
		trimModules:      trimModules,
		trimPaths:        trimPaths,
		registerABI:      RegisterABIAuto,
		propagateHeaders: true,
		eventBufferSize:  1024,
		executionUnits:   runtime.NumCPU(),
		allocSize:        1 << 20,
		metricsAddress:   ":9464",
	}
}

// Validate checks the values that have no sensible fallback.
func (c *Configuration) Validate() (fault error) {
	var errs []error

	switch c.registerABI {
	case RegisterABIAuto, RegisterABIOn, RegisterABIOff:
	default:
		errs = append(errs, fmt.Errorf("REGISTER_ABI must be auto, on or off, got %q", c.registerABI))
	}

	if c.eventBufferSize < 1 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER_SIZE must be positive, got %d", c.eventBufferSize))
	}

	if c.executionUnits < 1 {
		errs = append(errs, fmt.Errorf("EXECUTION_UNITS must be positive, got %d", c.executionUnits))
	}

	return errors.Join(errs...)
}

// WithProbe returns a copy with the probe settings replaced, for callers that build a
// configuration in code.
func (c *Configuration) WithProbe(runtimeVersion string, registerABI RegisterABIMode, propagateHeaders bool, executionUnits int) *Configuration {
	n := *c
	n.runtimeVersion = runtimeVersion
	n.registerABI = registerABI
	n.propagateHeaders = propagateHeaders
	n.executionUnits = executionUnits

	return &n
}

// WithTarget returns a copy pointed at another process: its pid, the offsets table describing
// its runtime and the memory region reserved in it for injected data.
func (c *Configuration) WithTarget(pid int, offsetsFile string, allocStart, allocSize uint64) *Configuration {
	n := *c
	n.targetPID = pid
	n.offsetsFile = offsetsFile
	n.allocStart = allocStart
	n.allocSize = allocSize

	return &n
}

// WithMetricsAddress returns a copy serving metrics on addr.
func (c *Configuration) WithMetricsAddress(addr string) *Configuration {
	n := *c
	n.metricsAddress = addr

	return &n
}

func (c *Configuration) LogLevel() slog.Level         { return c.logLevel }
func (c *Configuration) OtelURL() string              { return c.otelURL }
func (c *Configuration) DatabaseURL() string          { return c.dbConStr }
func (c *Configuration) ServiceName() string          { return c.serviceName }
func (c *Configuration) TrimModules() []string        { return c.trimModules }
func (c *Configuration) TrimPaths() []string          { return c.trimPaths }
func (c *Configuration) OffsetsFile() string          { return c.offsetsFile }
func (c *Configuration) TargetRuntimeVersion() string { return c.runtimeVersion }
func (c *Configuration) TargetPID() int               { return c.targetPID }
func (c *Configuration) RegisterABI() RegisterABIMode { return c.registerABI }
func (c *Configuration) PropagateHeaders() bool       { return c.propagateHeaders }
func (c *Configuration) EventBufferSize() int         { return c.eventBufferSize }
func (c *Configuration) ExecutionUnits() int          { return c.executionUnits }
func (c *Configuration) MetricsAddress() string       { return c.metricsAddress }

func (c *Configuration) AllocRegion() (start, size uint64) {
	return c.allocStart, c.allocSize
}
