package models

import "time"

// ScanRequest is the request body for submitting a scanned code
type ScanRequest struct {
	Code string `json:"code"`
}

// EditCodeRequest adjusts one code within a day. Exactly one field is used:
// Delta is applied when set, otherwise Count replaces the quantity.
type EditCodeRequest struct {
	Delta *int `json:"delta,omitempty"`
	Count *int `json:"count,omitempty"`
}

// EditCodeResponse is returned after editing a code
type EditCodeResponse struct {
	Day   string `json:"day"`
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// CountEntryResponse is one row of a day listing, decorated for display
type CountEntryResponse struct {
	Code        string `json:"code"`
	Count       int    `json:"count"`
	Name        string `json:"name,omitempty"`
	DisplayText string `json:"displayText"`
}

// DayCountsResponse is returned when reading one day
type DayCountsResponse struct {
	Day     string               `json:"day"`
	Sort    SortMode             `json:"sort"`
	Entries []CountEntryResponse `json:"entries"`
	Total   int                  `json:"total"`
}

// DaysResponse lists every day with data, newest first
type DaysResponse struct {
	Days []string `json:"days"`
}

// RecentScansResponse is the live feed snapshot
type RecentScansResponse struct {
	Events []ScanEvent `json:"events"`
}

// DuplicateGuardRequest updates guard settings; nil fields are left alone
type DuplicateGuardRequest struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	WindowMs *int64 `json:"windowMs,omitempty"`
}

// ScanEnabledRequest toggles whether scan input is accepted
type ScanEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SettingsResponse reports the current scan settings
type SettingsResponse struct {
	DuplicateGuard DuplicateGuardSettings `json:"duplicateGuard"`
	ScanEnabled    bool                   `json:"scanEnabled"`
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
