package autoprobe_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/cirruscomms/autoprobe"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		entry := map[string]any{}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v: %s", err, sc.Text())
		}
		entries = append(entries, entry)
	}

	return entries
}

func TestLoggingContext(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("LOG_LEVEL", "info")

	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)

	cfg, err := autoprobe.LoadConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	ctx, o, err := autoprobe.Initialise(context.Background(), cfg, out, errOut)
	if err != nil {
		t.Fatalf("failed to initialise observer: %v", err)
	}

	o.Debug("not logged")
	o.Notice("probe attached", autoprobe.FieldPID, 42)

	ctx, o, err = autoprobe.Extend(ctx, autoprobe.FieldHook, "roundTrip")
	if err != nil {
		t.Fatalf("failed to extend observer: %v", err)
	}
	o.Error("could not read method", errors.New("fault"), autoprobe.SeverityLow)

	if !autoprobe.InContext(ctx) {
		t.Fatalf("observer missing from context")
	}

	entries := decodeLines(t, out)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry on the log output, got %d", len(entries))
	}
	if entries[0]["level"] != "NOTICE" || entries[0]["msg"] != "probe attached" {
		t.Errorf("unexpected entry %v", entries[0])
	}
	if _, ok := entries[0]["time"]; ok {
		t.Errorf("time must be dropped in tests")
	}
	if entries[0][autoprobe.FieldInstanceID] != o.InstanceID().String() {
		t.Errorf("instance id missing from %v", entries[0])
	}

	errs := decodeLines(t, errOut)
	if len(errs) != 1 {
		t.Fatalf("expected 1 entry on the error output, got %d", len(errs))
	}
	for key, want := range map[string]any{
		"level":                 "ERR",
		autoprobe.FieldHook:     "roundTrip",
		autoprobe.FieldError:    "fault",
		autoprobe.FieldSeverity: autoprobe.SeverityLow,
	} {
		if errs[0][key] != want {
			t.Errorf("expected %s=%v, got %v", key, want, errs[0][key])
		}
	}
}

func TestWithLeavesParentUntouched(t *testing.T) {
	t.Setenv("ENV", "test")

	out := new(bytes.Buffer)
	_, o, err := autoprobe.InitialiseTestLogger(context.Background(), autoprobe.LevelInfo, out, out)
	if err != nil {
		t.Fatalf("failed to initialise observer: %v", err)
	}

	child := o.With(autoprobe.FieldUnit, 3)
	child.Info("child")
	o.Info("parent")

	entries := decodeLines(t, out)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0][autoprobe.FieldUnit] != float64(3) {
		t.Errorf("child entry lacks its argument: %v", entries[0])
	}
	if _, ok := entries[1][autoprobe.FieldUnit]; ok {
		t.Errorf("parent entry carries the child's argument: %v", entries[1])
	}
}

func TestReset(t *testing.T) {
	t.Setenv("ENV", "test")

	out := new(bytes.Buffer)
	ctx, _, err := autoprobe.InitialiseTestLogger(context.Background(), autoprobe.LevelInfo, out, out)
	if err != nil {
		t.Fatalf("failed to initialise observer: %v", err)
	}

	ctx, _, _ = autoprobe.Extend(ctx, autoprobe.FieldPID, 7)
	ctx = autoprobe.Reset(ctx)
	_, o, _ := autoprobe.Get(ctx)
	o.Info("after reset")

	entries := decodeLines(t, out)
	if _, ok := entries[len(entries)-1][autoprobe.FieldPID]; ok {
		t.Errorf("argument survived reset")
	}
}

func TestGetWithoutObserver(t *testing.T) {
	if _, _, err := autoprobe.Get(context.Background()); err == nil {
		t.Errorf("expected an error for a context without observer")
	}
}

func TestDeduplication(t *testing.T) {
	testCases := []struct {
		name     string
		input    []any
		expected []any
	}{
		{
			name:     "no duplicates",
			input:    []any{"key1", "value1", "key2", "value2"},
			expected: []any{"key1", "value1", "key2", "value2"},
		},
		{
			name:     "identical duplicates",
			input:    []any{"key1", "value1", "key1", "value1"},
			expected: []any{"key1", "value1"},
		},
		{
			name:     "duplicate keys with different values",
			input:    []any{"key1", "value1", "key2", "value2", "key1", "value3"},
			expected: []any{"key1", "value1", "key2", "value2"},
		},
		{
			name:     "attr and pair with the same key",
			input:    []any{slog.Int("key1", 1), "key1", "value1", "key2", "value2"},
			expected: []any{slog.Int("key1", 1), "key2", "value2"},
		},
		{
			name:     "dangling key",
			input:    []any{"key1", "value1", "key2"},
			expected: []any{"key1", "value1", "key2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := autoprobe.DeduplicateArgs(tc.input)
			if len(result) != len(tc.expected) {
				t.Fatalf("expected length %d, got %d", len(tc.expected), len(result))
			}

			for i := range result {
				if a, ok := result[i].(slog.Attr); ok {
					if !a.Equal(tc.expected[i].(slog.Attr)) {
						t.Errorf("at index %d, expected %v, got %v", i, tc.expected[i], a)
					}
					continue
				}
				if result[i] != tc.expected[i] {
					t.Errorf("at index %d, expected %v, got %v", i, tc.expected[i], result[i])
				}
			}
		})
	}
}

func TestStringToLevel(t *testing.T) {
	testCases := map[string]slog.Level{
		"develop": autoprobe.LevelDevelop,
		"DEBUG":   autoprobe.LevelDebug,
		"info":    autoprobe.LevelInfo,
		"notice":  autoprobe.LevelNotice,
		"warn":    autoprobe.LevelWarning,
		"warning": autoprobe.LevelWarning,
		"error":   autoprobe.LevelError,
		"fatal":   autoprobe.LevelFatal,
		"chatty":  autoprobe.LevelDebug,
	}

	for input, want := range testCases {
		if got := autoprobe.StringToLevel(input); got != want {
			t.Errorf("%s: expected %v, got %v", input, want, got)
		}
	}
}
