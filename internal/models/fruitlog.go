package models

import (
	"fmt"
	"time"
)

// FruitLogEntry is a persisted, date-keyed summary of one logged fruit
type FruitLogEntry struct {
	ID             string    `json:"id"`
	Date           string    `json:"date"` // date key, see DateKey
	FruitName      string    `json:"fruitName"`
	NutritionScore int       `json:"nutritionScore"`
	Nutrition      string    `json:"nutrition,omitempty"`
	Ripeness       Ripeness  `json:"ripeness,omitempty"`
	ShelfPeriod    string    `json:"shelfPeriod,omitempty"`
	WaitTime       string    `json:"waitTime,omitempty"`
	UserID         string    `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`

	// Manual entries only
	Calories string `json:"calories,omitempty"`
	Vitamins string `json:"vitamins,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// LoggedFruit is one fruit shown under a calendar day
type LoggedFruit struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// DayLog groups the fruits logged on one calendar day
type DayLog struct {
	Fruits []LoggedFruit `json:"fruits"`
}

// DateKey formats t as the calendar key used by log entries: year, month
// and day joined by dashes with no zero padding, e.g. "2025-9-13".
func DateKey(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}

// ParseDateKey parses a calendar key produced by DateKey. Zero-padded
// components are accepted too.
func ParseDateKey(key string) (time.Time, error) {
	var y, m, d int
	if _, err := fmt.Sscanf(key, "%d-%d-%d", &y, &m, &d); err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.Local)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("invalid date key %q: out of range", key)
	}
	return t, nil
}
