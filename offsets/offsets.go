// Package offsets holds the byte offsets that describe the monitored runtime's internal struct
// layout. The values are produced by an external offset resolver for a given runtime build and
// are loaded once at start-up; nothing in this module infers a layout on its own.
package offsets

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-version"
)

// ErrNoMatch is returned when no table entry covers the requested runtime version.
var ErrNoMatch = errors.New("no offsets for runtime version")

// Offsets are field positions relative to the start of the owning struct in the target.
// A zero value is a legitimate offset (the first field of a struct).
type Offsets struct {
	// net/http.Request
	RequestMethod uint64 `yaml:"request_method"`
	RequestURL    uint64 `yaml:"request_url"`
	RequestHost   uint64 `yaml:"request_host"`
	RequestProto  uint64 `yaml:"request_proto"`
	RequestHeader uint64 `yaml:"request_header"`
	// data word of the Request.ctx interface
	RequestCtx uint64 `yaml:"request_ctx"`

	// net/url.URL
	URLScheme      uint64 `yaml:"url_scheme"`
	URLOpaque      uint64 `yaml:"url_opaque"`
	URLUser        uint64 `yaml:"url_user"`
	URLHost        uint64 `yaml:"url_host"`
	URLPath        uint64 `yaml:"url_path"`
	URLRawPath     uint64 `yaml:"url_raw_path"`
	URLOmitHost    uint64 `yaml:"url_omit_host"`
	URLForceQuery  uint64 `yaml:"url_force_query"`
	URLRawQuery    uint64 `yaml:"url_raw_query"`
	URLFragment    uint64 `yaml:"url_fragment"`
	URLRawFragment uint64 `yaml:"url_raw_fragment"`

	// net/url.Userinfo
	UserinfoUsername uint64 `yaml:"userinfo_username"`

	// net/http.Response
	ResponseStatusCode uint64 `yaml:"response_status_code"`

	// runtime.hmap
	MapBuckets uint64 `yaml:"map_buckets"`

	// bufio.Writer
	WriterBuf uint64 `yaml:"writer_buf"`
	WriterN   uint64 `yaml:"writer_n"`

	// data word of the parent interface embedded first in the context implementations
	ContextParent uint64 `yaml:"context_parent"`
}

// Entry binds a set of offsets to the runtime versions they were resolved for.
type Entry struct {
	Versions string  `yaml:"versions"`
	Offsets  Offsets `yaml:"offsets"`

	constraints version.Constraints
}

// Table is an ordered list of entries; the first matching entry wins.
type Table struct {
	Entries []Entry `yaml:"entries"`
}

// Load reads a YAML offsets table and validates every version constraint in it.
func Load(r io.Reader) (table *Table, fault error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read offsets table: %w", err)
	}

	t := &Table{}
	if err := yaml.UnmarshalWithOptions(raw, t, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("could not parse offsets table: %w", err)
	}

	if len(t.Entries) == 0 {
		return nil, errors.New("offsets table has no entries")
	}

	for i := range t.Entries {
		c, err := version.NewConstraint(t.Entries[i].Versions)
		if err != nil {
			return nil, fmt.Errorf("could not parse version constraint %q of entry %d: %w", t.Entries[i].Versions, i, err)
		}
		t.Entries[i].constraints = c
	}

	return t, nil
}

// Resolve returns the offsets for the given runtime version, e.g. "1.21.5" or "go1.21.5".
func (t *Table) Resolve(runtimeVersion string) (offsets *Offsets, fault error) {
	v, err := parseRuntimeVersion(runtimeVersion)
	if err != nil {
		return nil, err
	}

	for i := range t.Entries {
		if t.Entries[i].constraints.Check(v) {
			o := t.Entries[i].Offsets
			return &o, nil
		}
	}

	return nil, fmt.Errorf("%w %s", ErrNoMatch, runtimeVersion)
}

// RegisterABI reports whether the runtime passes arguments and results in registers,
// which the Go toolchain does from 1.17 on.
func RegisterABI(runtimeVersion string) (registerABI bool, fault error) {
	v, err := parseRuntimeVersion(runtimeVersion)
	if err != nil {
		return false, err
	}

	return v.GreaterThanOrEqual(registerABIVersion), nil
}

var registerABIVersion = version.Must(version.NewVersion("1.17"))

func parseRuntimeVersion(s string) (*version.Version, error) {
	if len(s) > 2 && s[:2] == "go" {
		s = s[2:]
	}

	v, err := version.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("could not parse runtime version %q: %w", s, err)
	}

	return v, nil
}
