package media

import (
	"errors"
	"strings"
	"sync"
	"time"
)

type State string

const (
	StateIdle               State = "idle"
	StateAttemptingAutoplay State = "attempting-autoplay"
	StatePlaying            State = "playing"
	StateAutoplayBlocked    State = "autoplay-blocked"
	StateError              State = "error"
	// StateGradient means preflight rejected video; nothing was attached.
	StateGradient State = "gradient"
)

type Event string

const (
	EventLoadedData Event = "loadeddata"
	EventPlaying    Event = "playing"
	EventStalled    Event = "stalled"
	EventError      Event = "error"
	EventAbort      Event = "abort"
)

// DefaultStallGrace is how long a stalled video may stay stalled before it is
// declared broken.
const DefaultStallGrace = 3 * time.Second

type stopper interface {
	Stop() bool
}

// Player is the playback state machine of one video element. It is safe for
// use from the event callbacks of several goroutines.
type Player struct {
	mu         sync.Mutex
	state      State
	reason     Reason
	stallGrace time.Duration
	afterFunc  func(time.Duration, func()) stopper
	stallTimer stopper
	onChange   func(State)
}

type PlayerOption func(*Player)

func WithStallGrace(d time.Duration) PlayerOption {
	return func(p *Player) {
		if d > 0 {
			p.stallGrace = d
		}
	}
}

// WithOnChange registers a callback run after every state transition. It is
// called without the player lock held.
func WithOnChange(fn func(State)) PlayerOption {
	return func(p *Player) {
		p.onChange = fn
	}
}

func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{
		state:      StateIdle,
		stallGrace: DefaultStallGrace,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reason is the preflight reason when the player settled on the gradient.
func (p *Player) Reason() Reason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// VideoAttached reports whether a video element should exist in the page.
func (p *Player) VideoAttached() bool {
	s := p.State()
	return s != StateIdle && s != StateGradient
}

// ShowGradient reports whether the animated gradient layer is visible.
func (p *Player) ShowGradient() bool {
	s := p.State()
	return s == StateGradient || s == StateError
}

// ShowPlayButton reports whether the manual play affordance is visible.
func (p *Player) ShowPlayButton() bool {
	return p.State() == StateAutoplayBlocked
}

// Start runs the preflight checks. A rejected environment moves straight to
// the gradient; otherwise the video is attached and autoplay is attempted.
func (p *Player) Start(env Environment) State {
	p.mu.Lock()
	if p.state != StateIdle {
		s := p.state
		p.mu.Unlock()
		return s
	}
	if ok, reason := Preflight(env); !ok {
		p.reason = reason
		return p.transitionLocked(StateGradient)
	}
	return p.transitionLocked(StateAttemptingAutoplay)
}

// AutoplayResult feeds the outcome of the initial play() call.
func (p *Player) AutoplayResult(err error) State {
	p.mu.Lock()
	if p.state != StateAttemptingAutoplay {
		s := p.state
		p.mu.Unlock()
		return s
	}
	switch {
	case err == nil:
		p.mu.Unlock()
		return StateAttemptingAutoplay
	case IsAutoplayBlocked(err):
		return p.transitionLocked(StateAutoplayBlocked)
	default:
		return p.transitionLocked(StateError)
	}
}

// ManualPlay feeds the outcome of a play() call triggered by the play button.
func (p *Player) ManualPlay(err error) State {
	p.mu.Lock()
	if p.state != StateAutoplayBlocked {
		s := p.state
		p.mu.Unlock()
		return s
	}
	if err != nil {
		if IsAutoplayBlocked(err) {
			p.mu.Unlock()
			return StateAutoplayBlocked
		}
		return p.transitionLocked(StateError)
	}
	return p.transitionLocked(StatePlaying)
}

// Handle applies a media element event.
func (p *Player) Handle(ev Event) State {
	p.mu.Lock()
	if p.state == StateIdle || p.state == StateGradient || p.state == StateError {
		s := p.state
		p.mu.Unlock()
		return s
	}

	switch ev {
	case EventLoadedData:
		p.stopStallLocked()
		s := p.state
		p.mu.Unlock()
		return s
	case EventPlaying:
		p.stopStallLocked()
		return p.transitionLocked(StatePlaying)
	case EventStalled:
		if p.stallTimer == nil {
			p.stallTimer = p.afterFunc(p.stallGrace, p.stallExpired)
		}
		s := p.state
		p.mu.Unlock()
		return s
	case EventError, EventAbort:
		p.stopStallLocked()
		return p.transitionLocked(StateError)
	}
	s := p.state
	p.mu.Unlock()
	return s
}

func (p *Player) stallExpired() {
	p.mu.Lock()
	if p.stallTimer == nil {
		p.mu.Unlock()
		return
	}
	p.stallTimer = nil
	if p.state == StateError {
		p.mu.Unlock()
		return
	}
	p.transitionLocked(StateError)
}

func (p *Player) stopStallLocked() {
	if p.stallTimer != nil {
		p.stallTimer.Stop()
		p.stallTimer = nil
	}
}

// transitionLocked must be called with p.mu held; it releases the lock.
func (p *Player) transitionLocked(next State) State {
	changed := p.state != next
	p.state = next
	onChange := p.onChange
	p.mu.Unlock()
	if changed && onChange != nil {
		onChange(next)
	}
	return next
}

// NamedError is implemented by errors that carry a DOMException name.
type NamedError interface {
	error
	Name() string
}

var blockedMessages = []string{
	"notallowederror",
	"user didn't interact",
	"not allowed by the user agent",
	"play() failed because the user",
	"autoplay",
}

// IsAutoplayBlocked reports whether err is the browser refusing playback
// without a user gesture.
func IsAutoplayBlocked(err error) bool {
	if err == nil {
		return false
	}
	var named NamedError
	if errors.As(err, &named) && named.Name() == "NotAllowedError" {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range blockedMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
