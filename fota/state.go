package fota

import "fmt"

// State is the lifecycle state of the firmware update session.
type State int

const (
	Idle State = iota
	DownloadAuthorized
	Downloading
	DownloadComplete
	InstallAuthorized
	Installing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case DownloadAuthorized:
		return "DOWNLOAD AUTHORIZED"
	case Downloading:
		return "DOWNLOADING"
	case DownloadComplete:
		return "DOWNLOAD COMPLETE"
	case InstallAuthorized:
		return "INSTALL AUTHORIZED"
	case Installing:
		return "INSTALLING"
	case Failed:
		return "FAILED"
	default:
		return "INVALID STATE"
	}
}

// successors holds the only forward move out of every state. Failed can be
// entered from any state other than itself.
var successors = map[State]State{
	Idle:               DownloadAuthorized,
	DownloadAuthorized: Downloading,
	Downloading:        DownloadComplete,
	DownloadComplete:   InstallAuthorized,
	InstallAuthorized:  Installing,
}

// canAdvance reports whether the state machine may move from s to next.
func (s State) canAdvance(next State) bool {
	if s == Failed {
		return false
	}
	if next == Failed {
		return true
	}
	successor, ok := successors[s]
	return ok && successor == next
}

// RequestKind identifies what an authorization request asks permission for.
// The values match the ones used by the update-management service.
type RequestKind int32

const (
	DownloadAuthorization RequestKind = 1
	InstallAuthorization  RequestKind = 2
)

func (k RequestKind) String() string {
	switch k {
	case DownloadAuthorization:
		return "download"
	case InstallAuthorization:
		return "install"
	default:
		return fmt.Sprintf("unknown(%d)", int32(k))
	}
}

// Known reports whether k is a request kind the controller understands.
func (k RequestKind) Known() bool {
	return k == DownloadAuthorization || k == InstallAuthorization
}

// Token correlates an inbound authorization request to its reply.
type Token string

// Decision is the answer given on a token.
type Decision bool

const (
	Denied     Decision = false
	Authorized Decision = true
)

func (d Decision) String() string {
	if d {
		return "authorized"
	}
	return "denied"
}

// Progress is a single download progress notification.
type Progress struct {
	Transferred uint32
	Total       uint32
}

// Percent returns floor(Transferred*100/Total), clamped to 100.
// It returns 0 when Total is 0.
func (p Progress) Percent() uint8 {
	if p.Total == 0 {
		return 0
	}
	percent := uint64(p.Transferred) * 100 / uint64(p.Total)
	if percent > 100 {
		percent = 100
	}
	return uint8(percent)
}

// Complete reports whether the sample marks the end of the download.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Transferred == p.Total
}
