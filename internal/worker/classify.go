package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/oauth"
)

// Action is what the drainer does with a job after processing.
type Action int

const (
	// Complete acks and removes the job.
	Complete Action = iota
	// Requeue returns the job to the queue immediately.
	Requeue
	// DelayedRequeue returns the job after the configured cooldown.
	DelayedRequeue
	// Suspend stops the whole queue; the job is returned unprocessed.
	Suspend
	// Proceed continues processing as if the asset no longer exists.
	Proceed
)

func (a Action) String() string {
	switch a {
	case Complete:
		return "complete"
	case Requeue:
		return "requeue"
	case DelayedRequeue:
		return "delayed_requeue"
	case Suspend:
		return "suspend"
	case Proceed:
		return "proceed"
	default:
		return "unknown"
	}
}

// Decision is an Action plus the message and HTTP status that explain it.
type Decision struct {
	Action     Action
	Reason     string
	StatusCode int
}

const (
	reasonNetwork = "Could not create connection to DAM, possible local network issue"
	reasonAuth    = "Unable to process queue due to authorization errors"
	reasonTimeout = "Timed out loading asset, trying again later."
)

// Classify maps a failed asset fetch to a queue decision. It has no side effects.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Action: Proceed}
	}

	var e *dam.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case dam.KindConnection:
			return Decision{Action: Suspend, Reason: reasonNetwork}
		case dam.KindAuthorization, dam.KindInvalidCredentials:
			return Decision{Action: Suspend, Reason: reasonAuth, StatusCode: http.StatusUnauthorized}
		case dam.KindNotFound:
			return Decision{Action: Proceed, StatusCode: http.StatusNotFound}
		case dam.KindTimeout:
			return Decision{Action: DelayedRequeue, Reason: reasonTimeout, StatusCode: http.StatusRequestTimeout}
		case dam.KindClient, dam.KindServer:
			return Decision{Action: Requeue, Reason: e.Error(), StatusCode: e.Status}
		default:
			return Decision{Action: Complete, Reason: e.Error(), StatusCode: e.Status}
		}
	}

	switch {
	case errors.Is(err, oauth.ErrNotAuthenticated), errors.Is(err, oauth.ErrInvalidCredentials):
		return Decision{Action: Suspend, Reason: reasonAuth, StatusCode: http.StatusUnauthorized}
	case errors.Is(err, context.DeadlineExceeded):
		return Decision{Action: DelayedRequeue, Reason: reasonTimeout, StatusCode: http.StatusRequestTimeout}
	}
	return Decision{Action: Complete, Reason: err.Error()}
}
