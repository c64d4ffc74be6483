package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for pure domain rules. The service layer wraps these into
// API errors with the matching taxonomy code.
var (
	ErrIllegalTransition = errors.New("illegal mandate state transition")
	ErrRetryExhausted    = errors.New("debit retry limit reached")
	ErrOnDemandSchedule  = errors.New("on-demand mandates are debited explicitly, not scheduled")
	ErrUnknownFrequency  = errors.New("unknown mandate frequency")
)

// GenerateUUIDWithSuffix generates a UUID prefixed with a module name,
// e.g. man_<uuid> for mandates and deb_<uuid> for debit attempts.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// PercentChange returns the signed percentage change from previous to
// current. A zero previous value reports 100% growth for any non-zero
// current value, matching how the reporting dashboard treats a cold start.
func PercentChange(previous, current int64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (float64(current-previous) / float64(previous)) * 100
}
