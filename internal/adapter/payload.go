package adapter

import (
	"encoding/json"
	"time"

	"github.com/wearsync/internal/types"
)

// Payload is a decoded summary response from the provider. Exactly one of
// the typed fields is set, matched on DataType; unrecognized payloads keep
// their raw bytes so callers can log and skip them.
type Payload struct {
	DataType types.DataType
	Sleep    []SleepSummary
	Activity []ActivitySummary
	Workouts []WorkoutSummary
	Series   *SeriesPayload
	Raw      json.RawMessage
}

// SleepSummary mirrors the provider's nightly sleep object.
type SleepSummary struct {
	Date         string  `json:"date"`
	TotalMinutes int     `json:"total_minutes"`
	DeepMinutes  int     `json:"deep_minutes"`
	RemMinutes   int     `json:"rem_minutes"`
	LightMinutes int     `json:"light_minutes"`
	AwakeMinutes int     `json:"awake_minutes"`
	Efficiency   float64 `json:"efficiency"`
}

// ActivitySummary mirrors the provider's daily activity object.
type ActivitySummary struct {
	Date           string  `json:"date"`
	Steps          int     `json:"steps"`
	DistanceMeters float64 `json:"distance_meters"`
	Calories       int     `json:"calories"`
	ActiveMinutes  int     `json:"active_minutes"`
}

// WorkoutSummary mirrors one provider workout session.
type WorkoutSummary struct {
	ID           string    `json:"id"`
	Sport        string    `json:"sport"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Calories     int       `json:"calories"`
	AvgHeartRate int       `json:"avg_heart_rate"`
}

// SeriesPayload carries an intraday time series (heart rate, HRV, SpO2 and
// the other sample streams).
type SeriesPayload struct {
	SampleType string        `json:"sample_type"`
	Points     []SamplePoint `json:"points"`
}

// SamplePoint is one intraday measurement.
type SamplePoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// decodePayload interprets the provider response body for a data type.
// Unknown data types fall through with Raw populated rather than failing,
// since the provider adds stream types without notice.
func decodePayload(dataType types.DataType, body []byte) (*Payload, error) {
	p := &Payload{DataType: dataType, Raw: body}

	switch dataType {
	case types.DataTypeSleep:
		if err := json.Unmarshal(body, &p.Sleep); err != nil {
			return nil, err
		}
	case types.DataTypeDailyActivity:
		if err := json.Unmarshal(body, &p.Activity); err != nil {
			return nil, err
		}
	case types.DataTypeWorkout:
		if err := json.Unmarshal(body, &p.Workouts); err != nil {
			return nil, err
		}
	default:
		if dataType.IsIntraday() {
			var series SeriesPayload
			if err := json.Unmarshal(body, &series); err != nil {
				return nil, err
			}
			if series.SampleType == "" {
				series.SampleType = string(dataType)
			}
			p.Series = &series
		}
	}

	return p, nil
}
