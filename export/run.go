package export

import (
	"context"
	"errors"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/events"
)

// Sink consumes records read from the event channel.
type Sink interface {
	Consume(ctx context.Context, rec *events.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec *events.Record) error

// Consume implements Sink.
func (f SinkFunc) Consume(ctx context.Context, rec *events.Record) error {
	return f(ctx, rec)
}

// Run hands every record on ch to each sink until ctx is done or ch is closed and drained.
// A failing sink is logged and does not stop the others.
func Run(ctx context.Context, o *autoprobe.Observer, ch *events.Channel, sinks ...Sink) (fault error) {
	for {
		rec, err := ch.Read(ctx)
		if errors.Is(err, events.ErrChannelClosed) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			o.Error("could not read event", err, autoprobe.SeverityLowest)
			continue
		}

		for i, s := range sinks {
			if err := s.Consume(ctx, &rec); err != nil {
				o.Error("sink could not consume record", err, autoprobe.SeverityLowest,
					autoprobe.FieldSink, i,
					autoprobe.FieldSpanID, rec.SpanContext.SpanID.String(),
				)
			}
		}
	}
}
