package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeajq/jobtracker/storage"
)

// envString returns the trimmed value of name or def when unset.
func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// envInt parses a positive integer from name, falling back to def.
func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envDur parses a duration from name, falling back to def. Zero is accepted.
func envDur(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// EnvString exposes envString to the process wiring.
func EnvString(name, def string) string { return envString(name, def) }

// EnvDur exposes envDur to the process wiring.
func EnvDur(name string, def time.Duration) time.Duration { return envDur(name, def) }

// StorageNamesFromEnv reads the table and queue names, defaulting to the
// names storage-init provisions.
func StorageNamesFromEnv() storage.Names {
	return storage.Names{
		Jobs:          envString("JOBS_TABLE", "jobs"),
		SavedJobs:     envString("SAVED_JOBS_TABLE", "savedjobs"),
		Profiles:      envString("PROFILES_TABLE", "profiles"),
		ActivityQueue: envString("ACTIVITY_QUEUE", "board-activity"),
	}
}
