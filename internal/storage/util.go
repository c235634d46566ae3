package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Default returns the default value for key and whether the key is known.
func Default(key string) (string, bool) {
	v, ok := defaults[key]
	return v, ok
}

// GetOrDefault reads key, falling back to its default when absent.
func GetOrDefault(ctx context.Context, s SettingsStore, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		def, _ := Default(key)
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return v, nil
}

// LoadCadence reads the current cadence parameters.
func LoadCadence(ctx context.Context, s SettingsStore) (Cadence, error) {
	primary, err := GetOrDefault(ctx, s, KeyActionPrimary)
	if err != nil {
		return Cadence{}, err
	}
	secondary, err := GetOrDefault(ctx, s, KeyActionSecondary)
	if err != nil {
		return Cadence{}, err
	}
	interval, err := GetOrDefault(ctx, s, KeyIntervalSeconds)
	if err != nil {
		return Cadence{}, err
	}

	return Cadence{
		Primary:   NormalizeToken(primary),
		Secondary: NormalizeToken(secondary),
		Interval:  ParseInterval(interval),
	}, nil
}

// LoadAutoStop reads the configured auto-stop duration. Non-numeric parts
// count as zero; the result may be zero or negative, meaning "no auto-stop".
func LoadAutoStop(ctx context.Context, s SettingsStore) (time.Duration, error) {
	hours, err := GetOrDefault(ctx, s, KeyAutoStopHours)
	if err != nil {
		return 0, err
	}
	minutes, err := GetOrDefault(ctx, s, KeyAutoStopMinutes)
	if err != nil {
		return 0, err
	}
	return time.Duration(atoiOrZero(hours))*time.Hour + time.Duration(atoiOrZero(minutes))*time.Minute, nil
}

// ParseInterval converts an interval in seconds to a tick spacing.
// Non-numeric, zero and negative values yield MinInterval.
func ParseInterval(raw string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(seconds) || seconds <= 0 {
		return MinInterval
	}
	ns := seconds * float64(time.Second)
	if ns >= float64(MaxInterval) {
		return MaxInterval
	}
	d := time.Duration(ns)
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// NormalizeToken trims and upper-cases an action token.
func NormalizeToken(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateSetting checks a value before it is stored and returns the
// normalized form.
func ValidateSetting(key, value string) (string, error) {
	switch key {
	case KeyActionPrimary, KeyActionSecondary:
		token := NormalizeToken(value)
		if token == "" {
			return "", nil
		}
		r := []rune(token)
		if len(r) != 1 || r[0] > unicode.MaxASCII || !(unicode.IsLetter(r[0]) || unicode.IsDigit(r[0])) {
			return "", fmt.Errorf("invalid token %q: must be a single letter or digit", value)
		}
		return token, nil
	case KeyIntervalSeconds:
		return strings.TrimSpace(value), nil
	case KeyAutoStopHours, KeyAutoStopMinutes:
		v := strings.TrimSpace(value)
		if v == "" {
			return "", nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid %s %q: must be a non-negative integer", key, value)
		}
		return v, nil
	default:
		return "", fmt.Errorf("unknown setting: %s", key)
	}
}

func atoiOrZero(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
