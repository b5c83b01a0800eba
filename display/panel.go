// Package display keeps the device status panel: network, cloud and update
// status plus the latest sensor values.
package display

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultRefresh = time.Second

// Cloud status values.
const (
	CloudInProgress   = "in progress"
	CloudRegistered   = "registered"
	CloudUnregistered = "unregistered"
	CloudError        = "error"
)

// Update status values.
const (
	UpdateIdle             = "idle"
	UpdateDownloading      = "downloading"
	UpdateDownloadComplete = "download complete"
	UpdateInstalling       = "installing"
	UpdateFailed           = "update failed"
)

// Snapshot is a consistent copy of the panel.
type Snapshot struct {
	Version       string            `json:"version"`
	NetworkKind   string            `json:"networkKind"`
	NetworkStatus string            `json:"networkStatus"`
	CloudStatus   string            `json:"cloudStatus"`
	LastError     string            `json:"lastError,omitempty"`
	UpdateStatus  string            `json:"updateStatus"`
	Progress      uint8             `json:"progress"`
	Fatal         bool              `json:"fatal"`
	Sensors       map[string]string `json:"sensors"`
}

// Indicator is a hardware signal for a failed update, e.g. an LED.
type Indicator interface {
	SetFailureIndicator(on bool)
}

type Config struct {
	Version   string
	Indicator Indicator
	Logger    Logger
}

// Panel is safe for concurrent writers. Readers see the latest complete
// write of every field.
type Panel struct {
	indicator Indicator
	log       Logger

	mu       sync.RWMutex
	snapshot Snapshot
	labels   []string
	dirty    bool
}

func NewPanel(config *Config) *Panel {
	p := &Panel{
		indicator: config.Indicator,
		snapshot: Snapshot{
			Version:      config.Version,
			UpdateStatus: UpdateIdle,
			Sensors:      make(map[string]string),
		},
	}

	if config.Logger != nil {
		p.log = config.Logger
	} else {
		p.log = noopLogger{}
	}

	return p
}

func (p *Panel) update(change func(s *Snapshot)) {
	p.mu.Lock()
	change(&p.snapshot)
	p.dirty = true
	p.mu.Unlock()
}

func (p *Panel) SetNetworkKind(kind string) {
	p.log.Debugf("Network: %v", kind)
	p.update(func(s *Snapshot) { s.NetworkKind = kind })
}

func (p *Panel) SetNetworkStatus(status string) {
	p.log.Infof("Network %v", status)
	p.update(func(s *Snapshot) { s.NetworkStatus = status })
}

func (p *Panel) SetCloudStatus(status string) {
	p.log.Infof("Cloud %v", status)
	p.update(func(s *Snapshot) { s.CloudStatus = status })
}

// SetCloudError shows a recoverable error reported by the update service.
func (p *Panel) SetCloudError(code int, name string, description string) {
	p.log.Warnf("Cloud error (%d) %v: %v", code, name, description)
	p.update(func(s *Snapshot) {
		s.CloudStatus = CloudError
		s.LastError = fmt.Sprintf("(%d) %v", code, name)
	})
}

func (p *Panel) SetSensorValue(label string, value string) {
	p.update(func(s *Snapshot) {
		if _, ok := s.Sensors[label]; !ok {
			p.labels = append(p.labels, label)
		}
		s.Sensors[label] = value
	})
}

func (p *Panel) SetDownloading() {
	p.log.Infof("Downloading firmware")
	p.update(func(s *Snapshot) {
		s.UpdateStatus = UpdateDownloading
		s.Progress = 0
	})
}

func (p *Panel) SetProgress(percent uint8) {
	p.log.Infof("Downloading: %d%%", percent)
	p.update(func(s *Snapshot) {
		s.UpdateStatus = UpdateDownloading
		s.Progress = percent
	})
}

func (p *Panel) SetDownloadComplete() {
	p.log.Infof("Download completed")
	p.update(func(s *Snapshot) {
		s.UpdateStatus = UpdateDownloadComplete
		s.Progress = 100
	})
}

func (p *Panel) SetInstalling() {
	p.log.Infof("Installing firmware")
	p.update(func(s *Snapshot) { s.UpdateStatus = UpdateInstalling })
}

// SetUpdateFailed raises the fatal indicator of the update session.
func (p *Panel) SetUpdateFailed() {
	p.log.Errorf("Firmware update failed")
	p.update(func(s *Snapshot) {
		s.UpdateStatus = UpdateFailed
		s.Fatal = true
	})

	if p.indicator != nil {
		p.indicator.SetFailureIndicator(true)
	}
}

func (p *Panel) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.snapshot
	s.Sensors = make(map[string]string, len(p.snapshot.Sensors))
	for label, value := range p.snapshot.Sensors {
		s.Sensors[label] = value
	}

	return s
}

// Render returns the panel as text lines, sensors in registration order.
func (p *Panel) Render() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.snapshot

	lines := []string{
		fmt.Sprintf("fotad %v", s.Version),
		fmt.Sprintf("%v: %v", orDash(s.NetworkKind), orDash(s.NetworkStatus)),
		fmt.Sprintf("Cloud: %v", orDash(s.CloudStatus)),
	}

	switch s.UpdateStatus {
	case UpdateDownloading:
		lines = append(lines, fmt.Sprintf("Downloading... %d%%", s.Progress))
	case UpdateIdle:
	default:
		lines = append(lines, strings.ToUpper(s.UpdateStatus[:1])+s.UpdateStatus[1:])
	}

	for _, label := range p.labels {
		lines = append(lines, fmt.Sprintf("%v: %v", label, s.Sensors[label]))
	}

	return lines
}

// Run refreshes the panel every interval while it changed, until ctx is
// done. Rendering goes to the debug log.
func (p *Panel) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultRefresh
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

func (p *Panel) refresh() bool {
	p.mu.Lock()
	dirty := p.dirty
	p.dirty = false
	p.mu.Unlock()

	if !dirty {
		return false
	}

	p.log.Debugf("Panel: %v", strings.Join(p.Render(), " | "))

	return true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
