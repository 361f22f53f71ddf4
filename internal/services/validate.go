package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/KodeKenobi/nusuru-admin/internal/models"
)

// Messages returned to callers for rejected requests.
const (
	MsgTokenRequired        = "FCM token is required"
	MsgNotificationRequired = "Notification title and body are required"
)

// ValidationError rejects a request before any network call is made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// DecodeRequest reads a JSON dispatch request. Numbers in data keep their
// exact textual form.
func DecodeRequest(r io.Reader) (*models.DispatchRequest, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var req models.DispatchRequest
	if err := dec.Decode(&req); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid JSON body: %v", err)}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid JSON body: %v", err)}
	}
	return &req, nil
}

// dispatchInput is a request that passed validation.
type dispatchInput struct {
	targets      []string
	notification models.Notification
	data         models.Data
	wireData     map[string]string
}

// validate checks, in order, the targets, the notification and the data.
func validate(req *models.DispatchRequest) (*dispatchInput, error) {
	targets := req.Targets()
	if len(targets) == 0 {
		return nil, &ValidationError{Message: MsgTokenRequired}
	}
	if req.Notification == nil || req.Notification.Title == "" || req.Notification.Body == "" {
		return nil, &ValidationError{Message: MsgNotificationRequired}
	}
	wire, err := req.Data.Strings()
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return &dispatchInput{
		targets:      targets,
		notification: *req.Notification,
		data:         req.Data,
		wireData:     wire,
	}, nil
}

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// wirePayload merges the caller's data with the type tag and the dispatch
// timestamp. The timestamp always wins over a caller-supplied one.
func (in *dispatchInput) wirePayload(now time.Time) map[string]string {
	out := make(map[string]string, len(in.wireData)+2)
	for k, v := range in.wireData {
		out[k] = v
	}
	out["type"] = in.data.Type()
	out["timestamp"] = now.UTC().Format(timestampLayout)
	return out
}
