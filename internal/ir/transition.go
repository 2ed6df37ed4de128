package ir

// Origin identifies where a Change entered the engine.
type Origin string

const (
	// OriginInitial marks the declared initial state (no change applied).
	OriginInitial Origin = "initial"
	// OriginExternal is a change submitted through Accept.
	OriginExternal Origin = "external"
	// OriginSource is a change produced by a registered event source.
	OriginSource Origin = "source"
	// OriginAction is a change fed back by an action transformer.
	OriginAction Origin = "action"
	// OriginTrigger is a change emitted by an on-enter state trigger.
	OriginTrigger Origin = "trigger"
)

// Transition is the record of one published state.
//
// A transition is written for the initial state (Seq 0, no change) and for
// every reduction after it. Payload fields hold the JSON encoding of the
// values; they are opaque to the engine and exist for inspection only.
type Transition struct {
	ID        string `json:"id"`                   // Content-addressed hash
	KnotID    string `json:"knot_id"`              // Engine instance
	Seq       int64  `json:"seq"`                  // Logical clock
	Origin    Origin `json:"origin"`               // Where the change came from
	ChangeTag Tag    `json:"change_tag,omitempty"` // Empty for the initial state
	FromTag   Tag    `json:"from_tag,omitempty"`   // State tag before the reduction
	StateTag  Tag    `json:"state_tag"`            // State tag after the reduction
	ActionTag Tag    `json:"action_tag,omitempty"` // Empty when no action was requested

	Change string `json:"change,omitempty"`
	State  string `json:"state"`
	Action string `json:"action,omitempty"`
}
