// Package services – realtime publishing
//
// Services publish only after their transaction commits.
package services

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dispatch-backend/internal/realtime"
)

func newID() string { return uuid.NewString() }

// publishEvent is fire-and-forget: the durable write already happened and
// subscribers refetch, so an encode failure is only logged.
func publishEvent(pub realtime.Publisher, lg zerolog.Logger, topic, table string, op realtime.Op, row any) {
	if pub == nil {
		return
	}
	ev, err := realtime.NewEvent(topic, table, op, row)
	if err != nil {
		lg.Warn().Err(err).Str("topic", topic).Msg("realtime event not published")
		return
	}
	pub.Publish(ev)
}
