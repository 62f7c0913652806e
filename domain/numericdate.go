package domain

import "time"

// NumericDate is a JWT NumericDate claim value: integral seconds since the
// Unix epoch. It wraps every exp/iat/issued/expires field in the model so a
// zero or negative timestamp can never be stored or signed.
type NumericDate int64

// NewNumericDate validates that seconds is a positive epoch timestamp.
func NewNumericDate(seconds int64) (NumericDate, error) {
	if seconds <= 0 {
		return 0, ErrServerError("numeric date must be a positive epoch timestamp")
	}
	return NumericDate(seconds), nil
}

// NumericDateFromTime truncates t to whole seconds.
func NumericDateFromTime(t time.Time) NumericDate {
	return NumericDate(t.Unix())
}

// Time converts back to a time.Time in UTC.
func (d NumericDate) Time() time.Time {
	return time.Unix(int64(d), 0).UTC()
}

// Unix returns the raw epoch seconds.
func (d NumericDate) Unix() int64 {
	return int64(d)
}

// Before reports whether d is strictly earlier than other.
func (d NumericDate) Before(other NumericDate) bool {
	return d < other
}
