package launcher

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/stream"
)

// StateSink is the UI side of the launcher. Implementations must be safe for
// use from pipeline goroutines.
type StateSink interface {
	SetState(Resolution)
	InitProgress(title string)
	Progress(current, total, delta int64)
	HideProgress()
}

type nopSink struct{}

func (nopSink) SetState(Resolution)          {}
func (nopSink) InitProgress(string)          {}
func (nopSink) Progress(int64, int64, int64) {}
func (nopSink) HideProgress()                {}

type progressMessage struct {
	Title   string `json:"title"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
	Delta   int64  `json:"delta"`
	Visible bool   `json:"visible"`
}

type stateMessage struct {
	State       State    `json:"state"`
	Predownload bool     `json:"predownload"`
	Versions    Versions `json:"versions"`
	Error       string   `json:"error,omitempty"`
}

// HubSink publishes state and progress on a stream hub.
type HubSink struct {
	hub *stream.Hub

	mu    sync.Mutex
	title string
}

func NewHubSink(hub *stream.Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) SetState(r Resolution) {
	msg := stateMessage{State: r.State, Predownload: r.PredownloadAvailable, Versions: r.Versions}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	}
	s.hub.Broadcast(stream.NewMessage(stream.TypeState, msg))
}

func (s *HubSink) InitProgress(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	log.Info(title)
	s.hub.Broadcast(stream.NewMessage(stream.TypeProgress, progressMessage{Title: title, Visible: true}))
}

func (s *HubSink) Progress(current, total, delta int64) {
	s.mu.Lock()
	title := s.title
	s.mu.Unlock()
	s.hub.Broadcast(stream.NewMessage(stream.TypeProgress, progressMessage{
		Title: title, Current: current, Total: total, Delta: delta, Visible: true,
	}))
}

func (s *HubSink) HideProgress() {
	s.mu.Lock()
	s.title = ""
	s.mu.Unlock()
	s.hub.Broadcast(stream.NewMessage(stream.TypeProgress, progressMessage{}))
}

type teeSink []StateSink

// Tee forwards every call to each of sinks in order.
func Tee(sinks ...StateSink) StateSink {
	return teeSink(sinks)
}

func (t teeSink) SetState(r Resolution) {
	for _, s := range t {
		s.SetState(r)
	}
}

func (t teeSink) InitProgress(title string) {
	for _, s := range t {
		s.InitProgress(title)
	}
}

func (t teeSink) Progress(current, total, delta int64) {
	for _, s := range t {
		s.Progress(current, total, delta)
	}
}

func (t teeSink) HideProgress() {
	for _, s := range t {
		s.HideProgress()
	}
}
