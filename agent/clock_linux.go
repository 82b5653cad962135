package agent

import "github.com/cirruscomms/autoprobe/events"

func defaultClock() (events.Clock, error) {
	c, err := events.NewBootClock()
	if err != nil {
		return nil, err
	}

	return c, nil
}
