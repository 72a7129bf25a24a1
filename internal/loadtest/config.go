// Package loadtest drives a running arena server over HTTP: it creates
// games concurrently, waits for their graph projection, completes them and
// verifies every announced winner.
package loadtest

import (
	"errors"
	"time"
)

// Default run parameters.
const (
	DefaultGames        = 200
	DefaultParticipants = 8
	DefaultTimeout      = 30 * time.Second
	DefaultSyncWait     = 2 * time.Minute
	workerChannelFactor = 2
	pollInterval        = 250 * time.Millisecond
)

// ErrVerification is returned when a completed game disagrees with the
// locally computed outcome.
var ErrVerification = errors.New("verification failed")

// Config holds configuration for a load run.
type Config struct {
	BaseURL      string        // Base URL of the server
	ClientID     string        // Client the games are created for
	Games        int           // Number of games to create
	Participants int           // Participants per game
	Workers      int           // Number of concurrent workers
	Timeout      time.Duration // HTTP request timeout
	SyncWait     time.Duration // How long to wait for the graph projection
	Seed         uint64        // Seed of the score generator
}

// Stats holds run statistics.
type Stats struct {
	Created    int64
	CreateFail int64
	Synced     int64
	Completed  int64
	Draws      int64
	Mismatches int64
	StartTime  time.Time
	Duration   time.Duration
}
