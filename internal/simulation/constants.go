package simulation

import "time"

// Default run shape.
const (
	DefaultTeams           = 2
	DefaultTeamSize        = 2
	DefaultCaptureDuration = 2 * time.Second
	DefaultSpreadMeters    = 5
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultWaitTimeout     = 30 * time.Second
	DefaultWorkers         = 4
)

// Agent loop intervals.
const (
	positionInterval = 200 * time.Millisecond
	progressInterval = 50 * time.Millisecond
	pollInterval     = 20 * time.Millisecond
)

// Runner constants.
const (
	PercentageMultiplier = 100
	fullCircleDegrees    = 360
	listenAddr           = "127.0.0.1:0"
	logFilePermission    = 0o600
)
