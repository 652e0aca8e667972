package harness

// TraceEvent is one span outcome of a scenario run.
type TraceEvent struct {
	Turn    int    `json:"turn"`
	Index   int    `json:"index"`
	Seq     int64  `json:"seq"`
	State   string `json:"state"`
	Kind    string `json:"kind,omitempty"`
	Module  string `json:"module,omitempty"`
	Command string `json:"command,omitempty"`
	Field   string `json:"field,omitempty"`

	// Response is the handler response as plain Go values.
	Response any `json:"response,omitempty"`
}

// Action returns "Module.Command".
func (e TraceEvent) Action() string {
	return e.Module + "." + e.Command
}

// TurnRecord is what the agent would read back after one turn.
type TurnRecord struct {
	Turn     string `json:"turn"`
	Feedback string `json:"feedback"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every span outcome, turn by turn, in span order.
	Trace []TraceEvent `json:"trace"`

	// Turns holds the feedback of each turn.
	Turns []TurnRecord `json:"turns"`

	// Outbox is everything the IO module delivered to the user.
	Outbox string `json:"outbox,omitempty"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Turns:  []TurnRecord{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
