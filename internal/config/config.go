package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server holds runtime configuration for the attendance server.  Each
// field corresponds to an environment variable.  Required variables are
// enforced by must(); optional ones fall back to sensible defaults.
type Server struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name
}

// Kiosk holds runtime configuration for a check-in device running the
// sync engine.  The tuning knobs mirror the engine defaults and only need
// setting when a deployment wants different behavior.
type Kiosk struct {
	ServerURL       string        // base URL of the attendance server
	EventID         uint64        // event this device checks people into
	RealtimeEnabled bool          // dial the websocket channel at all
	AllowFallback   bool          // permit request/response writes
	GraceWindow     time.Duration // local-edit precedence window
	SnapshotStale   time.Duration // snapshot staleness threshold
	QueueMaxAge     time.Duration // offline queue expiry bound
	AckTimeout      time.Duration // realtime send acknowledgment bound
	DeviceID        string        // stable device identity for logging
}

// LoadServer reads server configuration from the environment.  A .env
// file in the working directory is applied first when present; missing
// required variables are fatal.
func LoadServer() Server {
	_ = godotenv.Load() // absent .env is fine, real env vars win anyway
	return Server{
		Env:    getenv("APP_ENV", "dev"),
		Port:   must("APP_PORT"),
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),
	}
}

// LoadKiosk reads kiosk configuration from the environment.
func LoadKiosk() Kiosk {
	_ = godotenv.Load()
	return Kiosk{
		ServerURL:       must("SERVER_URL"),
		EventID:         mustUint("EVENT_ID"),
		RealtimeEnabled: getenv("REALTIME_ENABLED", "true") == "true",
		AllowFallback:   getenv("ALLOW_FALLBACK", "true") == "true",
		GraceWindow:     parseDur(getenv("GRACE_WINDOW", "30s")),
		SnapshotStale:   parseDur(getenv("SNAPSHOT_STALE_AFTER", "5m")),
		QueueMaxAge:     parseDur(getenv("QUEUE_MAX_AGE", "6h")),
		AckTimeout:      parseDur(getenv("ACK_TIMEOUT", "5s")),
		DeviceID:        getenv("DEVICE_ID", ""),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustUint is like must() but converts the retrieved string into an
// unsigned integer.  If conversion fails, the application exits.
func mustUint(key string) uint64 {
	s := must(key)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		log.Fatalf("invalid uint for %s: %q", key, s)
	}
	return n
}

// getenv returns the value of key or def when unset/empty.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseDur parses a Go duration string, falling back to zero (which lets
// the engine pick its default) on malformed input.
func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("config: invalid duration %q, using engine default", s)
		return 0
	}
	return d
}
