package policy

import (
	"fmt"

	"github.com/castkit/mediacache/internal/reachability"
)

// UserDataPolicy is a read-only snapshot of the user's data-usage preferences.
type UserDataPolicy struct {
	AllowCellularDownloads bool
	AllowCellularStreaming bool
	AutomaticDownloads     bool
}

// Intent distinguishes a pure background download from a request that the
// caller is willing to satisfy by streaming.
type Intent int

const (
	IntentDownload Intent = iota
	IntentStreamOrDownload
)

func (i Intent) String() string {
	if i == IntentStreamOrDownload {
		return "stream_or_download"
	}

	return "download"
}

// Reason explains why a transfer was denied.
type Reason int

const (
	ReasonUnknownReachability Reason = iota
	ReasonUnreachable
	ReasonAllOff
	ReasonNoCellularStreaming
	ReasonNoCellularDownloads
)

func (r Reason) String() string {
	switch r {
	case ReasonUnknownReachability:
		return "unknown_reachability"
	case ReasonUnreachable:
		return "unreachable"
	case ReasonAllOff:
		return "all_transfers_off"
	case ReasonNoCellularStreaming:
		return "cellular_streaming_off"
	case ReasonNoCellularDownloads:
		return "cellular_downloads_off"
	default:
		return "unknown"
	}
}

// Denial is a deliberate "will not transfer now" outcome, not a failure.
// Callers decide fallback behavior, e.g. streaming from the remote URL.
type Denial struct {
	Reason Reason
	Intent Intent
}

func (d *Denial) Error() string {
	return fmt.Sprintf("transfer denied (%s): %s", d.Intent, d.Reason)
}

// Decide is the single source of truth for streaming-vs-downloading
// tradeoffs. It is a total pure function: no I/O, no hidden state. Any change
// to user-setting semantics belongs here, not in callers.
func Decide(intent Intent, status reachability.Status, settings UserDataPolicy) *Denial {
	switch status {
	case reachability.StatusReachable:
		return nil
	case reachability.StatusConstrained:
		switch {
		case settings.AllowCellularStreaming && settings.AllowCellularDownloads:
			return nil
		case settings.AllowCellularStreaming:
			if intent == IntentStreamOrDownload {
				return nil
			}

			return &Denial{Reason: ReasonNoCellularDownloads, Intent: intent}
		case settings.AllowCellularDownloads:
			if intent == IntentDownload {
				return nil
			}

			return &Denial{Reason: ReasonNoCellularStreaming, Intent: intent}
		default:
			return &Denial{Reason: ReasonAllOff, Intent: intent}
		}
	case reachability.StatusUnreachable:
		return &Denial{Reason: ReasonUnreachable, Intent: intent}
	default:
		return &Denial{Reason: ReasonUnknownReachability, Intent: intent}
	}
}
