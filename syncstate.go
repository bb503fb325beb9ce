package main

// syncState is the controller's playback/echo state. The echo half records
// that the controller has just pushed a position to the time control and the
// next change notification is its own.
type syncState uint8

const (
	stateIdle syncState = iota
	statePlaying
	stateIdleEcho
	statePlayingEcho
)

func (s syncState) playing() bool {
	return s == statePlaying || s == statePlayingEcho
}

func (s syncState) awaitingEcho() bool {
	return s == stateIdleEcho || s == statePlayingEcho
}

// armEcho is applied immediately before a self-initiated push
func (s syncState) armEcho() syncState {
	if s.playing() {
		return statePlayingEcho
	}
	return stateIdleEcho
}

// consumeEcho is applied on the first notification after armEcho
func (s syncState) consumeEcho() syncState {
	if s.playing() {
		return statePlaying
	}
	return stateIdle
}

func (s syncState) play() syncState {
	if s.awaitingEcho() {
		return statePlayingEcho
	}
	return statePlaying
}

func (s syncState) stop() syncState {
	if s.awaitingEcho() {
		return stateIdleEcho
	}
	return stateIdle
}

func (s syncState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePlaying:
		return "playing"
	case stateIdleEcho:
		return "idle+echo"
	case statePlayingEcho:
		return "playing+echo"
	}
	return "unknown"
}
