package security

import (
	"time"

	"github.com/strandauth/strand/domain"
)

const (
	// DefaultClockSkewGracePeriod is the default grace period applied to
	// token expiry checks. It prevents false expiration errors caused by
	// time drift between the issuing server and the verifying server.
	// Tokens remain usable up to this long past their true expiry, which
	// is an acceptable trade for typical NTP drift.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// SystemClock reads the wall clock. It is the production implementation of
// the clock the state machine depends on.
type SystemClock struct{}

var _ domain.Clock = SystemClock{}

// NewSystemClock returns a wall-clock backed Clock.
func NewSystemClock() SystemClock {
	return SystemClock{}
}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// NowSeconds returns the current time as whole epoch seconds.
func (SystemClock) NowSeconds() domain.NumericDate {
	return domain.NumericDate(time.Now().Unix())
}

// ExpiredWithGrace reports whether exp has passed by more than gracePeriod
// at the given instant. A zero exp means no expiration.
func ExpiredWithGrace(now time.Time, exp domain.NumericDate, gracePeriod time.Duration) bool {
	if exp == 0 {
		return false
	}
	return now.After(exp.Time().Add(gracePeriod))
}

// ExpiringSoon reports whether exp falls within threshold of the given
// instant. Useful for proactive refresh decisions.
func ExpiringSoon(now time.Time, exp domain.NumericDate, threshold time.Duration) bool {
	if exp == 0 {
		return false
	}
	return now.Add(threshold).After(exp.Time())
}
