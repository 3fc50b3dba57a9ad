package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "CHATSYNC_"

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

// EnvString reads CHATSYNC_<key> with a default.
func EnvString(key, def string) string {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	return v
}

// EnvBool reads a bool with a default.
func EnvBool(key string, def bool) bool {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads a non-negative int with a default.
func EnvInt(key string, def int) int {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// EnvInt32 reads a non-negative int32 with a default.
func EnvInt32(key string, def int32) int32 {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// EnvInt64 reads an int64 with a default. Account ids may be any positive value.
func EnvInt64(key string, def int64) int64 {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// EnvFloat reads a positive float with a default.
func EnvFloat(key string, def float64) float64 {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

// EnvDuration reads a positive duration with a default.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := lookupEnv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
