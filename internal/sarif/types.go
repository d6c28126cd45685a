// Package sarif reads the SARIF 2.1.0 subset produced by external analyzers.
package sarif

// Document is a SARIF log.
type Document struct {
	Version string `json:"version"`
	Schema  string `json:"$schema,omitempty"`
	Runs    []Run  `json:"runs"`
}

// Run is one tool execution.
type Run struct {
	Tool        Tool         `json:"tool"`
	Results     []Result     `json:"results"`
	Invocations []Invocation `json:"invocations,omitempty"`
}

type Tool struct {
	Driver Driver `json:"driver"`
}

type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Result is one finding.
type Result struct {
	RuleID     string     `json:"ruleId"`
	Level      string     `json:"level"` // error, warning, note, none
	Message    Message    `json:"message"`
	Locations  []Location `json:"locations,omitempty"`
	Properties Properties `json:"properties,omitempty"`
}

// Properties carries tool specific extras; only severity is read.
type Properties struct {
	Severity string `json:"severity,omitempty"`
}

type Message struct {
	Text string `json:"text"`
}

type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region lines and columns are 1-based; columns are exclusive at the end.
type Region struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}

// Invocation reports how a run went, including per-file failures.
type Invocation struct {
	ExecutionSuccessful        bool           `json:"executionSuccessful"`
	ToolExecutionNotifications []Notification `json:"toolExecutionNotifications,omitempty"`
}

type Notification struct {
	Level     string     `json:"level"`
	Message   Message    `json:"message"`
	Locations []Location `json:"locations,omitempty"`
}

// URI returns the artifact of the first location, or "".
func (r Result) URI() string {
	if len(r.Locations) == 0 {
		return ""
	}
	return r.Locations[0].PhysicalLocation.ArtifactLocation.URI
}

// Region returns the region of the first location.
func (r Result) Region() Region {
	if len(r.Locations) == 0 {
		return Region{}
	}
	return r.Locations[0].PhysicalLocation.Region
}
