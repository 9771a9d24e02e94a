package models

import "time"

// SleepRecord is one normalized nightly sleep summary.
type SleepRecord struct {
	UserID        string    `json:"userId" db:"user_id"`
	Date          time.Time `json:"date" db:"date"`
	TotalMinutes  int       `json:"totalMinutes" db:"total_minutes"`
	DeepMinutes   int       `json:"deepMinutes" db:"deep_minutes"`
	RemMinutes    int       `json:"remMinutes" db:"rem_minutes"`
	LightMinutes  int       `json:"lightMinutes" db:"light_minutes"`
	AwakeMinutes  int       `json:"awakeMinutes" db:"awake_minutes"`
	Efficiency    float64   `json:"efficiency" db:"efficiency"`
	SyncedAt      time.Time `json:"syncedAt" db:"synced_at"`
}

// ActivityRecord is one normalized daily activity summary.
type ActivityRecord struct {
	UserID         string    `json:"userId" db:"user_id"`
	Date           time.Time `json:"date" db:"date"`
	Steps          int       `json:"steps" db:"steps"`
	DistanceMeters float64   `json:"distanceMeters" db:"distance_meters"`
	Calories       int       `json:"calories" db:"calories"`
	ActiveMinutes  int       `json:"activeMinutes" db:"active_minutes"`
	SyncedAt       time.Time `json:"syncedAt" db:"synced_at"`
}

// WorkoutRecord is one normalized workout session.
type WorkoutRecord struct {
	UserID       string    `json:"userId" db:"user_id"`
	ExternalID   string    `json:"externalId" db:"external_id"`
	Sport        string    `json:"sport" db:"sport"`
	StartedAt    time.Time `json:"startedAt" db:"started_at"`
	EndedAt      time.Time `json:"endedAt" db:"ended_at"`
	Calories     int       `json:"calories" db:"calories"`
	AvgHeartRate int       `json:"avgHeartRate" db:"avg_heart_rate"`
	SyncedAt     time.Time `json:"syncedAt" db:"synced_at"`
}

// Sample is one intraday time-series point, archived in ClickHouse.
type Sample struct {
	UserID     string    `json:"userId"`
	SampleType string    `json:"sampleType"`
	At         time.Time `json:"at"`
	Value      float64   `json:"value"`
}
