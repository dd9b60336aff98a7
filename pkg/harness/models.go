// Package harness defines the core entities of the agent execution system:
// AgentSpec, AgentRun, AgentEvent, and Artifact, along with the AgentRun
// state machine. It has no persistence or I/O dependencies — pkg/harnessstore
// maps these types to and from Postgres.
package harness

import "time"

// TaskType classifies what kind of work a spec describes.
type TaskType string

const (
	TaskCoding        TaskType = "coding"
	TaskTesting       TaskType = "testing"
	TaskRefactoring   TaskType = "refactoring"
	TaskDocumentation TaskType = "documentation"
	TaskAudit         TaskType = "audit"
	TaskCustom        TaskType = "custom"
)

// ValidTaskTypes lists every recognized TaskType value.
var ValidTaskTypes = map[TaskType]bool{
	TaskCoding:        true,
	TaskTesting:       true,
	TaskRefactoring:   true,
	TaskDocumentation: true,
	TaskAudit:         true,
	TaskCustom:        true,
}

// GateMode selects how the Acceptance Gate combines validator outcomes.
type GateMode string

const (
	GateAllPass  GateMode = "all_pass"
	GateAnyPass  GateMode = "any_pass"
	GateWeighted GateMode = "weighted"
)

// ToolPolicy is the allow/deny/sandbox configuration bound to a spec.
type ToolPolicy struct {
	Version            string            `json:"policy_version" yaml:"policy_version"`
	AllowedTools       []string          `json:"allowed_tools" yaml:"allowed_tools"`
	ForbiddenTools     []string          `json:"forbidden_tools" yaml:"forbidden_tools"`
	ForbiddenPatterns  []string          `json:"forbidden_patterns" yaml:"forbidden_patterns"`
	AllowedDirectories []string          `json:"allowed_directories" yaml:"allowed_directories"`
	ToolHints          map[string]string `json:"tool_hints,omitempty" yaml:"tool_hints,omitempty"`
}

// ValidatorRecord declares one acceptance validator within an AcceptanceSpec.
type ValidatorRecord struct {
	Type     string         `json:"type" yaml:"type"`
	Config   map[string]any `json:"config" yaml:"config"`
	Required bool           `json:"required" yaml:"required"`
	Weight   float64        `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// AcceptanceSpec is the ordered validator list plus the gate combination rule.
type AcceptanceSpec struct {
	Validators []ValidatorRecord `json:"validators" yaml:"validators"`
	GateMode   GateMode          `json:"gate_mode" yaml:"gate_mode"`
}

// RetryPolicy is a spec's own error-recovery configuration (spec.md
// §4.7: retry policy is read per-spec, not process-wide). Zero value
// means the kernel falls back to retry.DefaultPolicy().
type RetryPolicy struct {
	MaxRetries          int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	InitialIntervalMS   int     `json:"initial_interval_ms,omitempty" yaml:"initial_interval_ms,omitempty"`
	Multiplier          float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	RandomizationFactor float64 `json:"randomization_factor,omitempty" yaml:"randomization_factor,omitempty"`
	MaxIntervalMS       int     `json:"max_interval_ms,omitempty" yaml:"max_interval_ms,omitempty"`
}

// AgentSpec is the immutable description of an intended execution.
// Constructed once (by a derivation or a planner), validated once, and
// referenced read-only by every AgentRun that executes it.
type AgentSpec struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	DisplayName     string            `json:"display_name"`
	Objective       string            `json:"objective"`
	TaskType        TaskType          `json:"task_type"`
	ToolPolicy      ToolPolicy        `json:"tool_policy"`
	MaxTurns        int               `json:"max_turns"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	AcceptanceSpec  AcceptanceSpec    `json:"acceptance_spec"`
	RetryPolicy     RetryPolicy       `json:"retry_policy,omitempty"`
	Context         map[string]any    `json:"context,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Priority        int               `json:"priority,omitempty"`
	SourceFeatureID string            `json:"source_feature_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// RunStatus is the lifecycle state of an AgentRun.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusPaused    RunStatus = "paused"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusTimeout   RunStatus = "timeout"
)

// ValidatorOutcome is one validator's recorded result within a run's
// acceptance_results.
type ValidatorOutcome struct {
	Name   string `json:"name"`
	Status string `json:"status"` // passed | failed | error
	Detail string `json:"detail,omitempty"`
}

// ViolationAggregation summarizes policy_violation events for a run,
// updated incrementally as violations occur (spec.md §4.4).
type ViolationAggregation struct {
	TotalCount int            `json:"total_count"`
	ByType     map[string]int `json:"by_type"`
	ByTool     map[string]int `json:"by_tool"`
	LastTurn   int            `json:"last_turn"`
}

// AcceptanceResults is the composite run-level acceptance state: per-
// validator outcomes keyed by validator name, plus the violation
// aggregation the enforcer maintains.
type AcceptanceResults struct {
	Validators          map[string]ValidatorOutcome `json:"validators,omitempty"`
	ViolationAggregation *ViolationAggregation      `json:"violation_aggregation,omitempty"`
}

// AgentRun is one execution instance of one AgentSpec.
type AgentRun struct {
	ID                string            `json:"id"`
	AgentSpecID       string            `json:"agent_spec_id"`
	Status            RunStatus         `json:"status"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	TurnsUsed         int               `json:"turns_used"`
	TokensIn          int               `json:"tokens_in"`
	TokensOut         int               `json:"tokens_out"`
	RetryCount        int               `json:"retry_count"`
	Error             string            `json:"error,omitempty"`
	FinalVerdict      string            `json:"final_verdict,omitempty"`
	AcceptanceResults AcceptanceResults `json:"acceptance_results"`
	CreatedAt         time.Time         `json:"created_at"`
}

// EventType enumerates the immutable audit-event kinds (Glossary, spec.md).
type EventType string

const (
	EventStarted              EventType = "started"
	EventToolCall              EventType = "tool_call"
	EventToolResult            EventType = "tool_result"
	EventTurnComplete          EventType = "turn_complete"
	EventAcceptanceCheck       EventType = "acceptance_check"
	EventCompleted             EventType = "completed"
	EventFailed                EventType = "failed"
	EventTimeout               EventType = "timeout"
	EventPaused                EventType = "paused"
	EventResumed               EventType = "resumed"
	EventPolicyViolation       EventType = "policy_violation"
	EventAgentPlanned          EventType = "agent_planned"
	EventAgentMaterialized     EventType = "agent_materialized"
	EventIconGenerated         EventType = "icon_generated"
	EventTestsWritten          EventType = "tests_written"
	EventTestsExecuted         EventType = "tests_executed"
	EventTestResultArtifact    EventType = "test_result_artifact_created"
	EventOctoFailure           EventType = "octo_failure"
)

// ValidEventTypes is the full set of recognized event types.
var ValidEventTypes = map[EventType]bool{
	EventStarted: true, EventToolCall: true, EventToolResult: true,
	EventTurnComplete: true, EventAcceptanceCheck: true, EventCompleted: true,
	EventFailed: true, EventTimeout: true, EventPaused: true, EventResumed: true,
	EventPolicyViolation: true, EventAgentPlanned: true, EventAgentMaterialized: true,
	EventIconGenerated: true, EventTestsWritten: true, EventTestsExecuted: true,
	EventTestResultArtifact: true, EventOctoFailure: true,
}

// EventPayloadMaxSize is the inline payload size ceiling in bytes (spec.md §3).
const EventPayloadMaxSize = 4096

// AgentEvent is one immutable row in a run's audit trail.
type AgentEvent struct {
	ID               int64          `json:"id"`
	RunID            string         `json:"run_id"`
	Sequence         int            `json:"sequence"`
	Timestamp        time.Time      `json:"timestamp"`
	EventType        EventType      `json:"event_type"`
	ToolName         string         `json:"tool_name,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	PayloadTruncated *int           `json:"payload_truncated,omitempty"`
	ArtifactRef      string         `json:"artifact_ref,omitempty"`
}

// ArtifactType classifies what an Artifact's bytes represent.
type ArtifactType string

const (
	ArtifactLog        ArtifactType = "log"
	ArtifactTestResult ArtifactType = "test_result"
	ArtifactIcon       ArtifactType = "icon"
)

// InlineThreshold is the default inline-vs-file cutoff for artifact bytes
// (spec.md §4.3).
const InlineThreshold = 16 * 1024

// Artifact is a content-addressed blob referenced by events or a run.
type Artifact struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	ArtifactType    ArtifactType   `json:"artifact_type"`
	ContentHash     string         `json:"content_hash"`
	SizeBytes       int            `json:"size_bytes"`
	ContentInline   []byte         `json:"content_inline,omitempty"`
	ContentRef      string         `json:"content_ref,omitempty"`
	ArtifactMetadata map[string]any `json:"artifact_metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
