package compflow

import (
	"time"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
)

// State is a flow's position in the pipeline.
type State string

// Flow states, in pipeline order.
const (
	StateIdle               State = "idle"
	StateSelecting          State = "selecting"
	StateExtracting         State = "extracting"
	StateDetecting          State = "detecting"
	StateCleaning           State = "cleaning"
	StateHashing            State = "hashing"
	StateCheckingCache      State = "checking_cache"
	StateCacheHit           State = "cache_hit"
	StateGeneratingPrompt   State = "generating_prompt"
	StateCallingRemote      State = "calling_remote"
	StateRetrying           State = "retrying"
	StateFallback           State = "fallback"
	StateProcessingResponse State = "processing_response"
	StateStoring            State = "storing"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StateCancelled          State = "cancelled"
)

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// progress is the nominal completion percentage on entering each state.
// Failed and cancelled keep whatever progress the run had reached.
var progress = map[State]int{
	StateIdle:               0,
	StateSelecting:          5,
	StateExtracting:         15,
	StateDetecting:          25,
	StateCleaning:           35,
	StateHashing:            40,
	StateCheckingCache:      45,
	StateCacheHit:           95,
	StateGeneratingPrompt:   50,
	StateCallingRemote:      60,
	StateRetrying:           60,
	StateFallback:           70,
	StateProcessingResponse: 85,
	StateStoring:            90,
	StateCompleted:          100,
}

// transitions lists the allowed successors of each non-terminal state,
// besides failed and cancelled which every non-terminal state may reach.
var transitions = map[State][]State{
	StateIdle:               {StateSelecting},
	StateSelecting:          {StateExtracting},
	StateExtracting:         {StateDetecting},
	StateDetecting:          {StateCleaning},
	StateCleaning:           {StateHashing},
	StateHashing:            {StateCheckingCache},
	StateCheckingCache:      {StateCacheHit, StateGeneratingPrompt},
	StateCacheHit:           {StateCompleted},
	StateGeneratingPrompt:   {StateCallingRemote},
	StateCallingRemote:      {StateProcessingResponse, StateRetrying, StateFallback},
	StateRetrying:           {StateCallingRemote},
	StateFallback:           {StateCallingRemote},
	StateProcessingResponse: {StateStoring},
	StateStoring:            {StateCompleted},
}

// canTransition reports whether from → to is a legal move.
func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMetadata records one transition.
type StateMetadata struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`

	// Progress is 0-100 and never decreases within a run.
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`

	// Step describes the position within a repeated phase, such as
	// "attempt 2/3" or "fallback 1/2".
	Step string `json:"step,omitempty"`

	// ETA estimates the time until the current phase finishes.
	ETA time.Duration `json:"eta,omitempty"`

	// RetryCount is the number of retries made against the primary target.
	RetryCount int `json:"retry_count"`

	// FallbackIndex is the chain position being tried, or -1.
	FallbackIndex int `json:"fallback_index"`

	// Target is the remote target in use, when relevant.
	Target string `json:"target,omitempty"`

	Error  *cferrors.FlowError `json:"error,omitempty"`
	Result *Result             `json:"result,omitempty"`
}
