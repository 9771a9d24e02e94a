// Package types provides common type definitions for the wearable sync system.
package types

import (
	"fmt"
	"time"
)

// Provider identifies a wearable data vendor.
type Provider string

const (
	// ProviderPulse is the primary wearable vendor integration.
	ProviderPulse Provider = "pulse"
)

// DataType identifies one category of wearable data.
type DataType string

const (
	DataTypeProfile       DataType = "profile"
	DataTypeBody          DataType = "body"
	DataTypeSleep         DataType = "sleep"
	DataTypeDailyActivity DataType = "daily_activity"
	DataTypeSteps         DataType = "steps"
	DataTypeDistance      DataType = "distance"
	DataTypeCalories      DataType = "calories"
	DataTypeFloors        DataType = "floors"
	DataTypeElevation     DataType = "elevation"
	DataTypeWorkout       DataType = "workout"
	DataTypeHeartRate     DataType = "heart_rate"
	DataTypeHRV           DataType = "hrv"
	DataTypeSpO2          DataType = "spo2"
	DataTypeRespiration   DataType = "respiration"
	DataTypeTemperature   DataType = "temperature"
	DataTypeStress        DataType = "stress"
)

// DefaultBackfillSequence is the per-window unit order for push-completion
// backfill, least to most rate-sensitive.
var DefaultBackfillSequence = []DataType{
	DataTypeProfile,
	DataTypeSleep,
	DataTypeDailyActivity,
	DataTypeWorkout,
	DataTypeHeartRate,
	DataTypeHRV,
}

// DefaultPullSequence is the unit order for pull-chunk sync. It covers every
// data type the provider exposes through the bounded summary endpoint.
var DefaultPullSequence = []DataType{
	DataTypeProfile,
	DataTypeBody,
	DataTypeSleep,
	DataTypeDailyActivity,
	DataTypeSteps,
	DataTypeDistance,
	DataTypeCalories,
	DataTypeFloors,
	DataTypeElevation,
	DataTypeWorkout,
	DataTypeHeartRate,
	DataTypeHRV,
	DataTypeSpO2,
	DataTypeRespiration,
	DataTypeTemperature,
	DataTypeStress,
}

// intradayTypes are sampled many times per day and carry the heaviest
// provider-side cost. They get larger inter-request delays and their points
// land in the sample archive rather than the summary tables.
var intradayTypes = map[DataType]bool{
	DataTypeHeartRate:   true,
	DataTypeHRV:         true,
	DataTypeSpO2:        true,
	DataTypeRespiration: true,
	DataTypeTemperature: true,
	DataTypeStress:      true,
}

// IsIntraday reports whether the data type is a high-frequency sample series.
func (d DataType) IsIntraday() bool {
	return intradayTypes[d]
}

// UnitState represents the lifecycle of one (data type, window) fetch unit.
type UnitState string

const (
	// UnitNotTriggered means no request has been issued for the unit yet.
	UnitNotTriggered UnitState = "not_triggered"
	// UnitTriggered means a request was accepted and the provider callback is pending.
	UnitTriggered UnitState = "triggered"
	// UnitCompleted means the provider delivered the unit's data.
	UnitCompleted UnitState = "completed"
	// UnitTimedOut means the reclaimer gave up waiting for the callback.
	UnitTimedOut UnitState = "timed_out"
)

// BackfillStatus represents the overall status of a backfill session.
type BackfillStatus string

const (
	// BackfillActive means the session should keep advancing.
	BackfillActive BackfillStatus = "active"
	// BackfillCompleted means every target window finished.
	BackfillCompleted BackfillStatus = "completed"
	// BackfillCancelled is the terminal cooperative-cancel status.
	BackfillCancelled BackfillStatus = "cancelled"
	// BackfillAttention means a structural error halted the session for an operator.
	BackfillAttention BackfillStatus = "attention"
)

// ShouldContinue reports whether a driver may keep advancing the session.
func (s BackfillStatus) ShouldContinue() bool {
	return s == BackfillActive
}

// SyncStatus represents the status of a pull-chunk sync session.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncRunning   SyncStatus = "running"
	SyncWaiting   SyncStatus = "waiting"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// Runnable reports whether the scheduler may process a chunk for the session.
func (s SyncStatus) Runnable() bool {
	return s == SyncRunning || s == SyncWaiting
}

// Window is a bounded UTC time range, end exclusive.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window of the given size ending at end.
func NewWindow(end time.Time, size time.Duration) Window {
	end = end.UTC()
	return Window{Start: end.Add(-size), End: end}
}

// Previous returns the window immediately before this one with the same size.
func (w Window) Previous() Window {
	size := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-size), End: w.Start}
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// String formats the window for logs and error details.
func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// ServiceError represents a structured error response.
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// UnitError is one entry in a session's capped error log.
type UnitError struct {
	Unit       DataType  `json:"unit"`
	Message    string    `json:"message"`
	Window     string    `json:"window,omitempty"`
	Retryable  bool      `json:"retryable"`
	OccurredAt time.Time `json:"occurredAt"`
}
