// Package progress reports download progress to whoever is watching the boot.
package progress

import (
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/chainloader/internal/logfields"
)

// UI receives download progress. Calls come from the downloading goroutine.
type UI interface {
	Start()
	SetDownloadSize(total int64)
	SetDownloaded(n int64)
	Complete()
}

// Noop discards progress.
type Noop struct{}

func (Noop) Start()                {}
func (Noop) SetDownloadSize(int64) {}
func (Noop) SetDownloaded(int64)   {}
func (Noop) Complete()             {}

// Log writes progress to slog every Step percent. Unknown sizes log at start
// and completion only.
type Log struct {
	Logger *slog.Logger
	Label  string
	Step   int

	mu      sync.Mutex
	total   int64
	lastPct int
	done    int64
}

// NewLog returns a Log reporting every 25%.
func NewLog(logger *slog.Logger, label string) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{Logger: logger, Label: label, Step: 25}
}

func (l *Log) Start() {
	l.mu.Lock()
	l.total, l.lastPct, l.done = 0, 0, 0
	l.mu.Unlock()
	l.Logger.Info("Download started", logfields.Component(l.Label))
}

func (l *Log) SetDownloadSize(total int64) {
	l.mu.Lock()
	l.total = total
	l.mu.Unlock()
}

func (l *Log) SetDownloaded(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = n
	if l.total <= 0 || l.Step <= 0 {
		return
	}
	pct := int(n * 100 / l.total)
	if pct >= l.lastPct+l.Step && pct < 100 {
		l.lastPct = pct - pct%l.Step
		l.Logger.Info("Downloading", logfields.Component(l.Label), slog.Int("percent", l.lastPct), logfields.Bytes(n))
	}
}

func (l *Log) Complete() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	l.Logger.Info("Download complete", logfields.Component(l.Label), logfields.Bytes(done))
}

// Recorder keeps every call, for tests of code that reports progress.
type Recorder struct {
	mu       sync.Mutex
	Started  int
	Total    int64
	Updates  []int64
	Finished int
}

func (r *Recorder) Start() {
	r.mu.Lock()
	r.Started++
	r.mu.Unlock()
}

func (r *Recorder) SetDownloadSize(total int64) {
	r.mu.Lock()
	r.Total = total
	r.mu.Unlock()
}

func (r *Recorder) SetDownloaded(n int64) {
	r.mu.Lock()
	r.Updates = append(r.Updates, n)
	r.mu.Unlock()
}

func (r *Recorder) Complete() {
	r.mu.Lock()
	r.Finished++
	r.mu.Unlock()
}
