//go:build !linux

package agent

import "github.com/cirruscomms/autoprobe/events"

func defaultClock() (events.Clock, error) {
	return events.NewMonotonicClock(), nil
}
