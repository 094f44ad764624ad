package pump

import (
	"strings"

	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/platform"
)

// Class flags the close-related meaning of a message. A single message may
// carry several flags.
type Class uint8

const (
	CloseRequested Class = 1 << iota
	DestroyedExternally
	QuitBroadcast
	HandleInvalid
)

func (c Class) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c&CloseRequested != 0 {
		parts = append(parts, "close-requested")
	}
	if c&DestroyedExternally != 0 {
		parts = append(parts, "destroyed-externally")
	}
	if c&QuitBroadcast != 0 {
		parts = append(parts, "quit")
	}
	if c&HandleInvalid != 0 {
		parts = append(parts, "handle-invalid")
	}
	return strings.Join(parts, "|")
}

// Classify returns the close flags of msg, 0 for ordinary messages.
func Classify(msg platform.Message) Class {
	var c Class
	switch msg.Code {
	case platform.CodeClientMessage:
		switch msg.Name {
		case platform.ProtocolDeleteWindow:
			c |= CloseRequested
		case platform.ProtocolQuit:
			c |= QuitBroadcast
		}
	case platform.CodeQuit:
		c |= QuitBroadcast
	case platform.CodeDestroyNotify:
		c |= DestroyedExternally
	}
	return c
}

// PresentationOf maps an EWMH state list to the presentation sub-state.
func PresentationOf(states []string) lifecycle.Presentation {
	var hidden, fullscreen, maxV, maxH bool
	for _, s := range states {
		switch s {
		case platform.StateHidden:
			hidden = true
		case platform.StateFullscreen:
			fullscreen = true
		case platform.StateMaximizedVert:
			maxV = true
		case platform.StateMaximizedHorz:
			maxH = true
		}
	}
	switch {
	case hidden:
		return lifecycle.Minimized
	case fullscreen:
		return lifecycle.Fullscreen
	case maxV && maxH:
		return lifecycle.Maximized
	}
	return lifecycle.Normal
}
