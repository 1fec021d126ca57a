package domain

import "time"

// TaskStatus is the lifecycle state of an import task
type TaskStatus string

// Task status constants
const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are expected
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Valid reports whether s is a known task status
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// AllowedPredecessors returns the statuses a task may be in right before
// moving to s. FAILED may be written again over FAILED.
func (s TaskStatus) AllowedPredecessors() []TaskStatus {
	switch s {
	case TaskStatusInProgress:
		return []TaskStatus{TaskStatusPending}
	case TaskStatusCompleted:
		return []TaskStatus{TaskStatusInProgress}
	case TaskStatusFailed:
		return []TaskStatus{TaskStatusPending, TaskStatusInProgress, TaskStatusFailed}
	default:
		return nil
	}
}

// CanTransitionTo reports whether moving from s to next keeps the status monotone
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, from := range next.AllowedPredecessors() {
		if from == s {
			return true
		}
	}
	return false
}

// Task is one spreadsheet import request
type Task struct {
	TaskID          string     `db:"task_id" json:"taskId"`
	FilePath        string     `db:"file_path" json:"-"`
	Status          TaskStatus `db:"status" json:"status"`
	ErrorReportPath string     `db:"error_report_path" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasReport reports whether a validation report was generated for the task
func (t *Task) HasReport() bool {
	return t.ErrorReportPath != ""
}

// StatusEvent is pushed to subscribers after a committed status transition
type StatusEvent struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
}

// StatusStrings converts statuses into plain strings for query arguments
func StatusStrings(statuses []TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
