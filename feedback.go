package airplay2

import (
	"bufio"
	"context"
	"time"

	"github.com/airlift/airplay2/pkg/base"
	"github.com/airlift/airplay2/pkg/liberrors"
)

// feedbackInterval is how often the heartbeat fires on the main RTSP
// socket (spec §4.10).
const feedbackInterval = 2 * time.Second

// maxConsecutiveFeedbackFailures is the number of missed heartbeats the
// session tolerates before declaring the connection lost (spec §4.10).
const maxConsecutiveFeedbackFailures = 3

// startFeedbackLoop launches the heartbeat and, if an event connection
// was established during SETUP phase 1, the event reader (spec §4.10).
func (s *Session) startFeedbackLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.feedbackCancel = cancel

	go s.runHeartbeat(ctx)
	if s.eventConn != nil {
		go s.runEventReader(ctx)
	}
}

func (s *Session) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(feedbackInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendFeedback(); err != nil {
				failures++
				s.log.Warn().Err(err).Int("consecutive_failures", failures).Msg("feedback heartbeat failed")
				if failures >= maxConsecutiveFeedbackFailures {
					s.fail(liberrors.ErrLostConnection{})
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Session) sendFeedback() error {
	req := &base.Request{Method: base.MethodPost, Path: "/feedback"}
	_, err := s.cc.do(req, feedbackInterval)
	return err
}

// runEventReader drains framed JSON/plist event bodies from the
// accessory's event socket until it closes or the session is torn down
// (spec §4.10: "events report volume changes and playback progress").
// A closed event socket is itself a liveness signal.
func (s *Session) runEventReader(ctx context.Context) {
	br := bufio.NewReader(s.eventConn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req base.Request
		if err := req.Read(br); err != nil {
			if ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("event socket closed")
				s.fail(liberrors.ErrLostConnection{})
			}
			return
		}
		s.log.Debug().Str("path", req.Path).Msg("received accessory event")
	}
}
