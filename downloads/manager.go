package downloads

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/stream"
)

// Installer starts a named pipeline. *Manager implements it.
type Installer interface {
	Install(ctx context.Context, name, source, destDir string, alreadyDownloaded bool, opts ...InstallOption) (*Pipeline, error)
}

// Manager starts pipelines, allowing at most one active pipeline per
// destination directory and per archive path, and publishes their progress.
type Manager struct {
	fetcher    Fetcher
	unpacker   Unpacker
	scratchDir string
	hub        *stream.Hub

	mu        sync.RWMutex
	active    map[string]*Pipeline // keyed by cleaned dest dir and archive path
	pipelines map[string]*Pipeline // keyed by pipeline ID
	progress  map[string]*Progress
}

// NewManager creates a Manager downloading archives into scratchDir. hub may be nil.
func NewManager(fetcher Fetcher, unpacker Unpacker, scratchDir string, hub *stream.Hub) *Manager {
	return &Manager{
		fetcher:    fetcher,
		unpacker:   unpacker,
		scratchDir: scratchDir,
		hub:        hub,
		active:     make(map[string]*Pipeline),
		pipelines:  make(map[string]*Pipeline),
		progress:   make(map[string]*Progress),
	}
}

func (m *Manager) ScratchDir() string {
	return m.scratchDir
}

// Install starts a pipeline that fetches source and unpacks it into destDir.
// It fails with ErrBusy when another pipeline holds the same destination or archive.
func (m *Manager) Install(ctx context.Context, name, source, destDir string, alreadyDownloaded bool, opts ...InstallOption) (*Pipeline, error) {
	cfg := PipelineConfig{
		Source:            source,
		DestDir:           destDir,
		AlreadyDownloaded: alreadyDownloaded,
		ScratchDir:        m.scratchDir,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	keys := []string{
		"dest:" + filepath.Clean(destDir),
		"archive:" + filepath.Clean(cfg.ArchivePath()),
	}

	m.mu.Lock()
	for _, key := range keys {
		if holder, ok := m.active[key]; ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s is held by %s", ErrBusy, key, holder.ID)
		}
	}
	p := NewPipeline(ctx, m.fetcher, m.unpacker, cfg)
	for _, key := range keys {
		m.active[key] = p
	}
	m.pipelines[p.ID] = p
	m.progress[p.ID] = &Progress{ID: p.ID, Name: name, Status: StatusPending}
	m.mu.Unlock()

	// Release before the pipeline reports Done so a follow-up Install never sees ErrBusy.
	release := func() {
		m.mu.Lock()
		for _, key := range keys {
			if m.active[key] == p {
				delete(m.active, key)
			}
		}
		delete(m.pipelines, p.ID)
		m.mu.Unlock()
	}
	p.OnUnpackFinish(release)
	p.OnError(func(Stage, error) { release() })

	m.track(p, name)
	log.Infof("install %s started (%s)", name, p.ID)
	return p, nil
}

// track mirrors a pipeline's hooks into its Progress entry and broadcasts it.
func (m *Manager) track(p *Pipeline, name string) {
	speed := NewSpeedTracker()
	update := func(fn func(*Progress)) {
		m.mu.Lock()
		prog, ok := m.progress[p.ID]
		if !ok {
			m.mu.Unlock()
			return
		}
		fn(prog)
		prog.Name = name
		m.mu.Unlock()
		m.broadcastProgress()
	}

	p.OnDownloadStart(func() {
		update(func(prog *Progress) {
			prog.Status = StatusDownloading
			prog.Message = "Starting download..."
		})
	})
	p.OnDownloadProgress(func(current, total, _ int64) {
		bps := speed.Update(current)
		update(func(prog *Progress) {
			prog.Status = StatusDownloading
			prog.Message = "Downloading..."
			prog.BytesDone = current
			prog.TotalBytes = total
			prog.Percent = percent(current, total)
			prog.Speed = bps
		})
	})
	p.OnUnpackStart(func() {
		update(func(prog *Progress) {
			prog.Status = StatusExtracting
			prog.Message = "Extracting..."
			prog.BytesDone = 0
			prog.Percent = 0
			prog.Speed = 0
		})
	})
	p.OnUnpackProgress(func(current, total, _ int64) {
		update(func(prog *Progress) {
			prog.Status = StatusExtracting
			prog.BytesDone = current
			prog.TotalBytes = total
			prog.Percent = percent(current, total)
		})
	})
	p.OnUnpackFinish(func() {
		update(func(prog *Progress) {
			prog.Status = StatusComplete
			prog.Message = "Installation complete"
			prog.Percent = 100
			prog.Speed = 0
		})
	})
	p.OnError(func(stage Stage, err error) {
		update(func(prog *Progress) {
			prog.Speed = 0
			if errors.Is(err, context.Canceled) {
				prog.Status = StatusCancelled
				prog.Message = "Installation cancelled"
				return
			}
			prog.Status = StatusError
			prog.Message = fmt.Sprintf("%s failed", stage)
			prog.Error = err.Error()
		})
	})
}

// Cancel cancels a specific pipeline.
func (m *Manager) Cancel(id string) {
	m.mu.RLock()
	p, ok := m.pipelines[id]
	m.mu.RUnlock()
	if ok {
		p.Cancel()
	}
}

// CancelAll cancels all active pipelines.
func (m *Manager) CancelAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pipelines {
		p.Cancel()
	}
}

// GetProgress returns the progress of every pipeline started since the last ClearProgress.
func (m *Manager) GetProgress() OverallProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var overall OverallProgress
	overall.Installs = make([]Progress, 0, len(m.progress))
	overall.Installing = len(m.pipelines) > 0

	var totalPercent float64
	for _, p := range m.progress {
		overall.Installs = append(overall.Installs, *p)
		overall.Total++
		if p.Status == StatusComplete {
			overall.CompletedCount++
		}
		totalPercent += p.Percent
	}
	sort.Slice(overall.Installs, func(i, j int) bool {
		return overall.Installs[i].Name < overall.Installs[j].Name
	})

	if overall.Total > 0 {
		overall.OverallPercent = totalPercent / float64(overall.Total)
	}
	return overall
}

// GetInstallProgress returns the progress of one pipeline.
func (m *Manager) GetInstallProgress(id string) (Progress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.progress[id]; ok {
		return *p, true
	}
	return Progress{}, false
}

// ClearProgress forgets finished pipelines.
func (m *Manager) ClearProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.progress {
		if _, running := m.pipelines[id]; !running {
			delete(m.progress, id)
		}
	}
}

// IsInstalling reports whether any pipeline is running.
func (m *Manager) IsInstalling() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pipelines) > 0
}

func (m *Manager) broadcastProgress() {
	if m.hub == nil {
		return
	}
	m.hub.Broadcast(stream.NewMessage(stream.TypePipeline, m.GetProgress()))
}

// SpeedTracker tracks transfer speed over a sliding window.
type SpeedTracker struct {
	mu          sync.Mutex
	lastBytes   int64
	lastTime    time.Time
	speedWindow []int64
	now         func() time.Time
}

func NewSpeedTracker() *SpeedTracker {
	return &SpeedTracker{
		lastTime:    time.Now(),
		speedWindow: make([]int64, 0, 10),
		now:         time.Now,
	}
}

// Update records the running byte total and returns the average speed in bytes/sec.
func (s *SpeedTracker) Update(totalBytes int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed < 0.1 {
		return s.averageSpeed()
	}

	speed := int64(float64(totalBytes-s.lastBytes) / elapsed)
	s.lastBytes = totalBytes
	s.lastTime = now

	s.speedWindow = append(s.speedWindow, speed)
	if len(s.speedWindow) > 10 {
		s.speedWindow = s.speedWindow[1:]
	}
	return s.averageSpeed()
}

func (s *SpeedTracker) averageSpeed() int64 {
	if len(s.speedWindow) == 0 {
		return 0
	}
	var sum int64
	for _, v := range s.speedWindow {
		sum += v
	}
	return sum / int64(len(s.speedWindow))
}
