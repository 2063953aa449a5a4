// Package session models one RTSP client session: its identity,
// negotiated transport parameters, playback window, and the finite
// state machine that governs its lifecycle.
//
// The state machine is deliberately pure: Transition computes the next
// state and a list of effects for the caller to execute, and performs
// no I/O itself. All transitions run synchronously on the thread that
// received the triggering network response.
package session

import (
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a session. Exactly one state is
// active per session at any time.
type State string

const (
	StateIdle     State = "IDLE"
	StateOptions  State = "OPTIONS"
	StateDescribe State = "DESCRIBE"
	StateSDPReady State = "SDP_READY"
	StateSetup    State = "SETUP"
	StatePlay     State = "PLAY"
	StatePause    State = "PAUSE"
	StateStop     State = "STOP"
)

// Event triggers a state transition. Events are fired explicitly by the
// control channel and the registration driver; states are never polled.
type Event string

const (
	EventRegister     Event = "REGISTER"
	EventOptionsSent  Event = "OPTIONS_SENT"
	EventOptionsOK    Event = "OPTIONS_OK"
	EventOptionsFail  Event = "OPTIONS_FAIL"
	EventDescribeOK   Event = "DESCRIBE_OK"
	EventDescribeFail Event = "DESCRIBE_FAIL"
	EventSetupSent    Event = "SETUP_SENT"
	EventSetupFail    Event = "SETUP_FAIL"
	EventPlaySent     Event = "PLAY_SENT"
	EventPlayOK       Event = "PLAY_OK"
	EventPlayFail     Event = "PLAY_FAIL"
	EventPauseSent    Event = "PAUSE_SENT"
	EventPauseOK      Event = "PAUSE_OK"
	EventPauseFail    Event = "PAUSE_FAIL"
	EventTeardownSent Event = "TEARDOWN_SENT"
	EventTeardownOK   Event = "TEARDOWN_OK"
	EventTeardownFail Event = "TEARDOWN_FAIL"
)

// Effect is a command the caller must execute after a transition. The
// machine itself never performs the side effect.
type Effect int

const (
	// EffectSendTeardown instructs the caller to issue a TEARDOWN
	// request. Fired when a PAUSE is rejected, which means the remote
	// side already ended the stream.
	EffectSendTeardown Effect = iota + 1
	// EffectOpenControl instructs the caller to open the RTSP control
	// channel. Fired when registration completes.
	EffectOpenControl
)

type transition struct {
	next    State
	effects []Effect
}

// table maps (current state, event) to the next state plus effects.
// Events absent from a state's row are rejected by Transition.
var table = map[State]map[Event]transition{
	StateIdle: {
		EventRegister:    {next: StateIdle, effects: []Effect{EffectOpenControl}},
		EventOptionsSent: {next: StateOptions},
	},
	StateOptions: {
		EventOptionsOK:    {next: StateDescribe},
		EventOptionsFail:  {next: StateIdle},
		EventTeardownSent: {next: StateStop},
	},
	StateDescribe: {
		EventDescribeOK:   {next: StateSDPReady},
		EventDescribeFail: {next: StateIdle},
		EventTeardownSent: {next: StateStop},
	},
	StateSDPReady: {
		EventSetupSent: {next: StateSetup},
		// SDP body parse failures surface as DESCRIBE failures since
		// the body arrives after the DESCRIBE response itself.
		EventDescribeFail: {next: StateIdle},
		EventTeardownSent: {next: StateStop},
	},
	StateSetup: {
		EventPlaySent:     {next: StatePlay},
		EventSetupFail:    {next: StateIdle},
		EventTeardownSent: {next: StateStop},
	},
	StatePlay: {
		EventPlayOK:       {next: StatePlay},
		EventPlayFail:     {next: StateIdle},
		EventPauseSent:    {next: StatePause},
		EventTeardownSent: {next: StateStop},
	},
	StatePause: {
		EventPauseOK: {next: StatePause},
		// Resume: a paused session replays from its current window.
		EventPlaySent:     {next: StatePlay},
		EventPauseFail:    {next: StatePause, effects: []Effect{EffectSendTeardown}},
		EventTeardownSent: {next: StateStop},
	},
	StateStop: {
		EventTeardownOK:   {next: StateIdle},
		EventTeardownFail: {next: StateStop},
	},
}

// Transition computes the result of applying event to state. The third
// return value reports whether the transition is defined; an undefined
// event leaves the state unchanged and returns no effects.
func Transition(state State, event Event) (State, []Effect, bool) {
	row, ok := table[state]
	if !ok {
		return state, nil, false
	}
	tr, ok := row[event]
	if !ok {
		return state, nil, false
	}
	return tr.next, tr.effects, true
}

// Machine holds the single current-state value for one session.
type Machine struct {
	sessionID string
	state     State
}

// NewMachine creates a machine in the IDLE state.
func NewMachine(sessionID string) *Machine {
	return &Machine{
		sessionID: sessionID,
		state:     StateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Fire applies event to the current state. Undefined events are logged
// and ignored; the machine never advances to an undefined state. The
// returned effects must be executed by the caller.
func (m *Machine) Fire(event Event) (State, []Effect) {
	next, effects, ok := Transition(m.state, event)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Machine.Fire",
			"session":  m.sessionID,
			"state":    m.state,
			"event":    event,
		}).Warn("Rejected event with no transition from current state")
		return m.state, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Machine.Fire",
		"session":  m.sessionID,
		"from":     m.state,
		"event":    event,
		"to":       next,
	}).Debug("State transition")

	m.state = next
	return next, effects
}

// Reset forces the machine back to IDLE without consulting the table.
// Used only when a session is destroyed.
func (m *Machine) Reset() {
	m.state = StateIdle
}
