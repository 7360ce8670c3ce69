// Package v1 defines the data model shared by every orchest-api package:
// the resource kinds the state store persists and the status enum that
// drives every lifecycle controller's state machine.
package v1

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a build, session, run, step or job.
type Status string

const (
	// Pending means the resource has been created but work has not
	// started yet.
	Pending Status = "PENDING"
	// Started means a worker has picked up the resource and is actively
	// working on it.
	Started Status = "STARTED"
	// Success means the resource completed without error.
	Success Status = "SUCCESS"
	// Failure means the resource completed with an error.
	Failure Status = "FAILURE"
	// Aborted means the resource was cancelled before it completed.
	Aborted Status = "ABORTED"
	// Draft is only valid for Job: created but not yet started.
	Draft Status = "DRAFT"
	// Paused is only valid for Job: a started job that was paused.
	Paused Status = "PAUSED"
)

// Terminal reports whether a status can never be written over again, per
// invariant I5. This is the single place that answers that question; no
// other package should compare a status literal against SUCCESS/FAILURE/
// ABORTED directly.
func Terminal(s Status) bool {
	switch s {
	case Success, Failure, Aborted:
		return true
	default:
		return false
	}
}

// SessionState is the lifecycle state of an InteractiveSession. It is a
// distinct type from Status because a session's forward-only path
// (LAUNCHING -> RUNNING -> STOPPING -> STOPPED) has no PENDING/FAILURE
// concept of its own.
type SessionState string

const (
	Launching SessionState = "LAUNCHING"
	Running   SessionState = "RUNNING"
	Stopping  SessionState = "STOPPING"
	Stopped   SessionState = "STOPPED"
)

// SessionTerminal reports whether a session has reached its final state.
func SessionTerminal(s SessionState) bool {
	return s == Stopped
}

// JobStatus restricts Status to the values valid for a Job row.
type JobStatus = Status

const (
	JobDraft   JobStatus = Draft
	JobPending JobStatus = Pending
	JobStarted JobStatus = Started
	JobPaused  JobStatus = Paused
	JobSuccess JobStatus = Success
	JobFailure JobStatus = Failure
	JobAborted JobStatus = Aborted
)

// RunKind distinguishes a one-off/interactive pipeline run from a run that
// was produced by a Job.
type RunKind string

const (
	KindInteractive    RunKind = "interactive"
	KindNonInteractive RunKind = "non_interactive"
)

// Project is the root of ownership for pipelines and environments.
type Project struct {
	UUID         string            `db:"uuid" json:"uuid"`
	Path         string            `db:"path" json:"path"`
	EnvVariables map[string]string `db:"env_variables" json:"env_variables"`
}

// Pipeline belongs to exactly one Project.
type Pipeline struct {
	UUID         string            `db:"uuid" json:"uuid"`
	ProjectUUID  string            `db:"project_uuid" json:"project_uuid"`
	Path         string            `db:"path" json:"path"`
	EnvVariables map[string]string `db:"env_variables" json:"env_variables"`
}

// EnvironmentBuild materializes an Environment into an image.
type EnvironmentBuild struct {
	UUID           string     `db:"uuid" json:"uuid"`
	ProjectUUID    string     `db:"project_uuid" json:"project_uuid"`
	EnvironmentUUID string    `db:"environment_uuid" json:"environment_uuid"`
	ProjectPath    string     `db:"project_path" json:"project_path"`
	RequestedTime  time.Time  `db:"requested_time" json:"requested_time"`
	StartedTime    *time.Time `db:"started_time" json:"started_time,omitempty"`
	FinishedTime   *time.Time `db:"finished_time" json:"finished_time,omitempty"`
	Status         Status     `db:"status" json:"status"`
}

// JupyterBuild materializes the single, project-less Jupyter server image.
type JupyterBuild struct {
	UUID          string     `db:"uuid" json:"uuid"`
	RequestedTime time.Time  `db:"requested_time" json:"requested_time"`
	StartedTime   *time.Time `db:"started_time" json:"started_time,omitempty"`
	FinishedTime  *time.Time `db:"finished_time" json:"finished_time,omitempty"`
	Status        Status     `db:"status" json:"status"`
}

// InteractiveSession is keyed by (ProjectUUID, PipelineUUID); at most one
// row may exist per key (invariant I3).
type InteractiveSession struct {
	ProjectUUID  string       `db:"project_uuid" json:"project_uuid"`
	PipelineUUID string       `db:"pipeline_uuid" json:"pipeline_uuid"`
	Status       SessionState `db:"status" json:"status"`
	// Endpoints maps a logical service name (e.g. "jupyter-server",
	// "jupyter-ws") to the URL a client should use to reach it.
	Endpoints map[string]string `db:"endpoints" json:"jupyter_server_ip,omitempty"`
}

// PipelineRun is one execution of a pipeline, interactive or scheduled.
type PipelineRun struct {
	UUID               string          `db:"uuid" json:"uuid"`
	ProjectUUID        string          `db:"project_uuid" json:"project_uuid"`
	PipelineUUID       string          `db:"pipeline_uuid" json:"pipeline_uuid"`
	Status             Status          `db:"status" json:"status"`
	StartedTime        *time.Time      `db:"started_time" json:"started_time,omitempty"`
	FinishedTime       *time.Time      `db:"finished_time" json:"finished_time,omitempty"`
	Kind               RunKind         `db:"kind" json:"kind"`
	JobUUID            *string         `db:"job_uuid" json:"job_uuid,omitempty"`
	JobScheduleNumber  *int            `db:"job_schedule_number" json:"job_schedule_number,omitempty"`
	PipelineParameters json.RawMessage `db:"pipeline_parameters" json:"pipeline_parameters,omitempty"`
}

// PipelineRunStep tracks one step of a PipelineRun.
type PipelineRunStep struct {
	RunUUID      string     `db:"run_uuid" json:"run_uuid"`
	StepUUID     string     `db:"step_uuid" json:"step_uuid"`
	Status       Status     `db:"status" json:"status"`
	StartedTime  *time.Time `db:"started_time" json:"started_time,omitempty"`
	FinishedTime *time.Time `db:"finished_time" json:"finished_time,omitempty"`
}

// Job is a scheduled recipe that produces PipelineRuns.
type Job struct {
	UUID                     string          `db:"uuid" json:"uuid"`
	ProjectUUID              string          `db:"project_uuid" json:"project_uuid"`
	PipelineUUID             string          `db:"pipeline_uuid" json:"pipeline_uuid"`
	PipelineDefinition       json.RawMessage `db:"pipeline_definition" json:"pipeline_definition"`
	PipelineRunSpec          json.RawMessage `db:"pipeline_run_spec" json:"pipeline_run_spec"`
	JobParameters            json.RawMessage `db:"job_parameters" json:"parameters"`
	Schedule                 *string         `db:"schedule" json:"schedule,omitempty"`
	NextScheduledTime        *time.Time      `db:"next_scheduled_time" json:"next_scheduled_time,omitempty"`
	TotalScheduledExecutions int             `db:"total_scheduled_executions" json:"total_scheduled_executions"`
	Status                   JobStatus       `db:"status" json:"status"`
}

// PipelineRunImageMapping is a lock row: it pins run_uuid to the exact
// docker image id it must use for orchest_environment_uuid, per §4.4.
type PipelineRunImageMapping struct {
	RunUUID              string `db:"run_uuid" json:"run_uuid"`
	OrchestEnvironmentUUID string `db:"orchest_environment_uuid" json:"orchest_environment_uuid"`
	DockerImgID           string `db:"docker_img_id" json:"docker_img_id"`
}

// SchedulerJobType names a singleton recurring job row.
type SchedulerJobType string

const (
	TelemetryHeartbeat SchedulerJobType = "TELEMETRY_HEARTBEAT"
	OrchestExamples    SchedulerJobType = "ORCHEST_EXAMPLES"
)

// SchedulerJob is the lock target of the Recurring Scheduler (§4.5, I7).
type SchedulerJob struct {
	Type      SchedulerJobType `db:"type" json:"type"`
	Timestamp time.Time        `db:"timestamp" json:"timestamp"`
}

// StatusUpdate is the payload a worker POSTs back to the HTTP facade
// (§4.3).
type StatusUpdate struct {
	Status       Status     `json:"status"`
	StartedTime  *time.Time `json:"started_time,omitempty"`
	FinishedTime *time.Time `json:"finished_time,omitempty"`
}
