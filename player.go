package airplay2

import (
	"context"
	"time"

	"github.com/airlift/airplay2/pkg/audio"
	"github.com/airlift/airplay2/pkg/liberrors"
)

// Player is the minimal public surface a caller drives: connect, stream,
// pause, resume, seek, set_volume, disconnect (spec §4.11). It holds at
// most one live Session and keeps the caller from touching the session
// state machine, CSeq bookkeeping or pairing engine directly.
type Player struct {
	config  Config
	device  DeviceInfo
	session *Session
}

// NewPlayer creates a Player that will use config for every future Connect.
func NewPlayer(config Config) *Player {
	return &Player{config: config}
}

// Connect discovers nothing by itself: device must come from
// pkg/discovery. It suspends until the session reaches Ready or fails.
func (p *Player) Connect(ctx context.Context, device DeviceInfo) error {
	s, err := Connect(ctx, device, p.config)
	if err != nil {
		return err
	}
	p.device = device
	p.session = s
	return nil
}

// Stream starts playback from source, suspending until RECORD is
// acknowledged. The returned channel carries the first streaming error,
// if any, and is closed when the stream ends cleanly.
func (p *Player) Stream(source audio.SampleSource) (<-chan error, error) {
	if p.session == nil {
		return nil, liberrors.ErrNotConnected{}
	}
	return p.session.Stream(source)
}

// Pause suspends playback without tearing down the session.
func (p *Player) Pause() error {
	if p.session == nil {
		return liberrors.ErrNotConnected{}
	}
	return p.session.Pause()
}

// Resume restarts playback from source after a Pause.
func (p *Player) Resume(source audio.SampleSource) (<-chan error, error) {
	if p.session == nil {
		return nil, liberrors.ErrNotConnected{}
	}
	return p.session.Resume(source)
}

// Seek flushes the stream to position (spec §4.6 "FLUSH is issued before
// any seek"). The audio pipeline itself has no notion of sample position;
// callers seek their SampleSource and use Seek only to resynchronize RTP
// bookkeeping with the receiver.
func (p *Player) Seek(position time.Duration) error {
	if p.session == nil {
		return liberrors.ErrNotConnected{}
	}
	return p.session.Seek(position)
}

// SetVolume sets playback volume, linear 0.0..1.0 (spec §4.6's dB curve).
func (p *Player) SetVolume(linear float32) error {
	if p.session == nil {
		return liberrors.ErrNotConnected{}
	}
	return p.session.SetVolume(linear)
}

// Disconnect tears the session down. Calling it without a prior Connect
// is a no-op.
func (p *Player) Disconnect() error {
	if p.session == nil {
		return nil
	}
	err := p.session.Disconnect()
	p.session = nil
	return err
}

// State returns the underlying session's state, or StateClosed if there
// is no live session.
func (p *Player) State() State {
	if p.session == nil {
		return StateClosed
	}
	return p.session.State()
}
