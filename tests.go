package autoprobe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// InitialiseTestLogger sets up an Observer for use in tests.
func InitialiseTestLogger(ctx context.Context, level slog.Level, logOut, logErr io.Writer) (ctxWithObserver context.Context, observer *Observer, fault error) {
	cfg := CreateConfig(level, "", "", "autoprobe-test", []string{}, []string{})

	ctx, o, err := Initialise(ctx, cfg, logOut, logErr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise observer: %w", err)
	}

	return ctx, o, nil
}

// TestObserver returns an Observer that discards everything, for tests of packages that log
// but do not assert on their logs.
func TestObserver() *Observer {
	_, o, _ := InitialiseTestLogger(context.Background(), LevelFatal+1, io.Discard, io.Discard)
	return o
}
