package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// DefaultDataType is used when the caller does not tag the data payload.
const DefaultDataType = "default"

// Notification is the user-visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Data is the free-form payload delivered alongside the notification. Values
// must be JSON scalars.
type Data map[string]any

// DispatchRequest is the body accepted on the HTTP boundary and the queue.
type DispatchRequest struct {
	RequestID    string        `json:"request_id,omitempty"`
	Token        string        `json:"token,omitempty"`
	Tokens       []string      `json:"tokens,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Data         Data          `json:"data,omitempty"`
}

// Targets returns the ordered device tokens of the request. A non-empty
// tokens list wins over a single token.
func (r *DispatchRequest) Targets() []string {
	if len(r.Tokens) > 0 {
		return append([]string(nil), r.Tokens...)
	}
	if r.Token != "" {
		return []string{r.Token}
	}
	return nil
}

// ErrNonScalarData is returned by Data.Strings for object or array values.
var ErrNonScalarData = errors.New("data values must be strings, numbers or booleans")

// Strings flattens the payload into the string map FCM expects.
func (d Data) Strings() (map[string]string, error) {
	out := make(map[string]string, len(d))
	for key, value := range d {
		v, err := scalarString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q has type %T", err, key, value)
		}
		out[key] = v
	}
	return out, nil
}

func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", ErrNonScalarData
	}
}

// Type is the payload's type tag in its string form. It falls back to
// DefaultDataType when the tag is missing, null, empty, false or zero.
func (d Data) Type() string {
	v, ok := d["type"]
	if !ok || v == nil {
		return DefaultDataType
	}
	s, err := scalarString(v)
	if err != nil {
		return DefaultDataType
	}
	switch t := v.(type) {
	case bool:
		if !t {
			return DefaultDataType
		}
	case json.Number, float64, int, int64:
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == 0 {
			return DefaultDataType
		}
	}
	if s == "" {
		return DefaultDataType
	}
	return s
}
