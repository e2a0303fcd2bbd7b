package policy

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Verdict actions understood by strfry.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
	ActionDelete = "delete"
)

// PolicyResponse is the single output line emitted per decided event.
type PolicyResponse struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Msg    string `json:"msg,omitempty"`
}

// Result is the structured verdict of one filter. It is constructed fresh
// per check and never mutated afterwards.
type Result struct {
	Action string
	Msg    string
}

func Accept() *Result { return &Result{Action: ActionAccept} }

func Reject(msg string) *Result { return &Result{Action: ActionReject, Msg: msg} }

func Delete(msg string) *Result { return &Result{Action: ActionDelete, Msg: msg} }

// Verdict builds a non-accept result with a configured action ("reject" or
// "delete").
func Verdict(action, msg string) *Result {
	if action == ActionDelete {
		return Delete(msg)
	}
	return Reject(msg)
}

// Filter is one stage of the decision chain.
type Filter interface {
	Name() string
	Check(ctx context.Context, event *nostr.Event, remoteIP string) *Result
}

// MetricsCollector receives the final verdict of every processed event.
type MetricsCollector interface {
	ObserveDecision(action, filter string)
}
