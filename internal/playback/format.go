package playback

import (
	"fmt"
	"math"

	"github.com/convsession/internal/model"
)

// FormatTime renders seconds as MM:SS. NaN, infinite and negative values render as 00:00.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "00:00"
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func validDuration(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Percent is the progress shown on the seek bar: the drag position while seeking,
// otherwise currentTime over duration. A zero or NaN duration yields 0.
func Percent(s model.PlaybackState) float64 {
	if s.IsSeeking && s.SeekPosition != nil {
		return clampPercent(*s.SeekPosition)
	}
	if !validDuration(s.Duration) {
		return 0
	}
	return clampPercent(s.CurrentTime / s.Duration * 100)
}

// TimeAt converts a seek-bar percentage into seconds for the given duration.
func TimeAt(percent, duration float64) float64 {
	if !validDuration(duration) {
		return 0
	}
	return clampPercent(percent) / 100 * duration
}
