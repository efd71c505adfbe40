package result

import (
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	c := Default()
	cases := []struct {
		name     string
		score    Score
		timedOut bool
		want     Category
		percent  int
		flash    bool
	}{
		{"timeout partial", Some(0.426), true, CategoryTimeoutPartial, 43, false},
		{"timeout zero", Some(0), true, CategoryTimeout, -1, false},
		{"timeout absent", None, true, CategoryTimeout, -1, false},
		{"perfect", Some(1), false, CategoryPerfect, 100, false},
		{"perfect threshold", Some(0.9999), false, CategoryPerfect, 100, false},
		{"scored quarter", Some(0.25), false, CategoryScored, 25, true},
		{"scored zero", Some(0), false, CategoryScored, 0, true},
		{"just below perfect", Some(0.99989), false, CategoryScored, 100, true},
		{"absent while closed", None, false, CategoryTimeout, -1, false},
		{"negative while closed", Some(-0.5), false, CategoryTimeout, -1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := c.Classify(tc.score, tc.timedOut)
			if fb.Category != tc.want {
				t.Fatalf("category %s, want %s", fb.Category, tc.want)
			}
			if tc.percent < 0 {
				if fb.Percent != nil {
					t.Fatalf("expected no percent, got %d", *fb.Percent)
				}
			} else if fb.Percent == nil || *fb.Percent != tc.percent {
				t.Fatalf("percent %v, want %d", fb.Percent, tc.percent)
			}
			if fb.Flash != tc.flash {
				t.Fatalf("flash %v, want %v", fb.Flash, tc.flash)
			}
		})
	}
}

func TestScoredMessageAndCue(t *testing.T) {
	fb := Default().Classify(Some(0.25), false)
	if fb.Headline != "IoU Score: 25%" {
		t.Fatalf("unexpected headline %q", fb.Headline)
	}
	if fb.FlashDelayMS != 40 {
		t.Fatalf("expected 40ms flash delay, got %d", fb.FlashDelayMS)
	}
}

func TestTimeBudgetInMessage(t *testing.T) {
	c := Classifier{TimeBudget: 7 * time.Second}
	fb := c.Classify(None, true)
	if !strings.Contains(fb.Detail, "less than 7 seconds") {
		t.Fatalf("unexpected detail %q", fb.Detail)
	}
	c.TimeBudget = 4500 * time.Millisecond
	if fb := c.Classify(None, true); !strings.Contains(fb.Detail, "4.5 seconds") {
		t.Fatalf("unexpected detail %q", fb.Detail)
	}
}

func TestPercentRoundsHalfUp(t *testing.T) {
	if Percent(0.125) != 13 {
		t.Fatalf("expected 13, got %d", Percent(0.125))
	}
	if Percent(0.994) != 99 {
		t.Fatalf("expected 99")
	}
}
