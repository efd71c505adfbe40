// Package result maps an attempt's score to the feedback shown to the player.
package result

import (
	"fmt"
	"math"
	"time"
)

// Category is the feedback bucket.
type Category string

const (
	CategoryTimeoutPartial Category = "timeout_partial"
	CategoryTimeout        Category = "timeout"
	CategoryPerfect        Category = "perfect"
	CategoryScored         Category = "scored"
)

// PerfectThreshold is the score at or above which a closed attempt is perfect.
const PerfectThreshold = 0.9999

// FlashDelay is how long after showing a scored result the emphasis cue starts.
const FlashDelay = 40 * time.Millisecond

// Score is an optional similarity value.
type Score struct {
	Value float64
	Valid bool
}

// Some wraps a present score.
func Some(v float64) Score { return Score{Value: v, Valid: true} }

// None is the absent score.
var None = Score{}

// Feedback is what the UI shows once an attempt ends.
type Feedback struct {
	Category Category `json:"category" enum:"timeout_partial,timeout,perfect,scored"`
	Percent  *int     `json:"percent,omitempty"`
	Headline string   `json:"headline"`
	Detail   string   `json:"detail"`
	Flash    bool     `json:"flash"`
	// FlashDelayMS is set when Flash is true.
	FlashDelayMS int64 `json:"flash_delay_ms,omitempty"`
}

// Classifier holds the tunable threshold.
type Classifier struct {
	PerfectThreshold float64
	TimeBudget       time.Duration
}

// Default returns the standard classifier for a 7 second budget.
func Default() Classifier {
	return Classifier{PerfectThreshold: PerfectThreshold, TimeBudget: 7 * time.Second}
}

// Classify picks the feedback for score. The branches are evaluated in
// priority order; the final branch only covers a negative or absent score on a
// closed attempt, which callers do not produce.
func (c Classifier) Classify(score Score, timedOut bool) Feedback {
	threshold := c.PerfectThreshold
	if threshold <= 0 {
		threshold = PerfectThreshold
	}
	retry := fmt.Sprintf("Try again — our annotators complete it in less than %s.", seconds(c.TimeBudget))
	switch {
	case timedOut && score.Valid && score.Value > 0:
		pct := Percent(score.Value)
		return Feedback{
			Category: CategoryTimeoutPartial,
			Percent:  &pct,
			Headline: fmt.Sprintf("Time's up — IoU: %d%%", pct),
			Detail:   "You were close. " + retry,
		}
	case timedOut:
		return timeUp(retry)
	case score.Valid && score.Value >= threshold:
		pct := Percent(score.Value)
		return Feedback{
			Category: CategoryPerfect,
			Percent:  &pct,
			Headline: fmt.Sprintf("Perfect — IoU: %d%%", pct),
			Detail:   "Excellent — fully matched the GT polygon.",
		}
	case score.Valid && score.Value >= 0:
		pct := Percent(score.Value)
		return Feedback{
			Category:     CategoryScored,
			Percent:      &pct,
			Headline:     fmt.Sprintf("IoU Score: %d%%", pct),
			Detail:       "Good try — our annotators achieve 100% accuracy.",
			Flash:        true,
			FlashDelayMS: FlashDelay.Milliseconds(),
		}
	default:
		return timeUp(retry)
	}
}

func timeUp(retry string) Feedback {
	return Feedback{
		Category: CategoryTimeout,
		Headline: "Time's up!",
		Detail:   retry,
	}
}

// Percent rounds score*100 half up, as the page displays it.
func Percent(score float64) int {
	return int(math.Floor(score*100 + 0.5))
}

func seconds(d time.Duration) string {
	if d <= 0 {
		d = 7 * time.Second
	}
	s := d.Seconds()
	if s == math.Trunc(s) {
		return fmt.Sprintf("%d seconds", int(s))
	}
	return fmt.Sprintf("%.1f seconds", s)
}
