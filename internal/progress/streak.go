package progress

import (
	"time"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// NextStreak applies a claim made at now to s. Days are UTC calendar days.
// A second claim on the same day returns s unchanged and false.
func NextStreak(s domain.Streak, now time.Time) (domain.Streak, bool) {
	today := now.UTC().Format(domain.ClaimDateLayout)
	if s.LastClaimDate == today {
		return s, false
	}

	yesterday := now.UTC().AddDate(0, 0, -1).Format(domain.ClaimDateLayout)
	if s.LastClaimDate == yesterday {
		s.CurrentStreak++
	} else {
		s.CurrentStreak = 1
	}

	s.LongestStreak = max(s.LongestStreak, s.CurrentStreak)
	s.LastClaimDate = today
	s.TotalClaims++
	return s, true
}
