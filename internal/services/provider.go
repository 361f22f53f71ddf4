package services

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/KodeKenobi/nusuru-admin/internal/models"
)

// ErrDelivery marks a delivery attempt that is worth retrying. It never leaves
// the fan-out; callers only ever see it as a failed DispatchResult.
var ErrDelivery = errs.Class("delivery")

// Message is the fully resolved payload for one device token.
type Message struct {
	Token        string
	Notification models.Notification
	Data         map[string]string
}

// Sender delivers one message with a bearer token. It always returns a result
// for the token; a non-nil error means the attempt failed in a way a retry
// strategy may try again (transport errors, throttling, provider 5xx).
type Sender interface {
	Name() string
	Send(ctx context.Context, accessToken string, msg *Message) (models.DispatchResult, error)
}
