// api/schemas/observation.go
package schemas

// Observation is the record returned for every action cycle. It is always fully
// populated: optional values are encoded as explicit nulls and lists as empty
// arrays so consumers can rely on a stable shape.
type Observation struct {
	DOM        string  `json:"dom"`
	Screenshot *string `json:"screenshot"` // base64 encoded PNG
	Signals    Signals `json:"signals"`
}

// Signals is the wire form of the diagnostic bundle gathered during a cycle.
type Signals struct {
	StatusCode  *int               `json:"statusCode"`
	Console     ConsoleSignals     `json:"console"`
	Network     NetworkSignals     `json:"network"`
	Performance PerformanceSignals `json:"performance"`
	Redirects   []string           `json:"redirects"`
}

// ConsoleSignals holds console messages in arrival order.
type ConsoleSignals struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// NetworkSignals summarizes failed requests.
type NetworkSignals struct {
	FailedRequests int      `json:"failedRequests"`
	RequestErrors  []string `json:"requestErrors"`
}

// PerformanceSignals carries navigation timing.
type PerformanceSignals struct {
	LoadTimeMs *int64 `json:"loadTimeMs"`
}

// NewObservation returns an observation with every list initialised.
func NewObservation() Observation {
	return Observation{
		Signals: EmptySignals(),
	}
}

// EmptySignals returns a Signals value with non-nil lists.
func EmptySignals() Signals {
	return Signals{
		Console: ConsoleSignals{
			Errors:   []string{},
			Warnings: []string{},
		},
		Network: NetworkSignals{
			RequestErrors: []string{},
		},
		Redirects: []string{},
	}
}

// Failed reports whether the cycle that produced this observation failed. A
// failed cycle is recognisable by its empty DOM together with at least one
// console error.
func (o Observation) Failed() bool {
	return o.DOM == "" && len(o.Signals.Console.Errors) > 0
}

// HasScreenshot reports whether a visual snapshot was captured.
func (o Observation) HasScreenshot() bool {
	return o.Screenshot != nil && *o.Screenshot != ""
}
