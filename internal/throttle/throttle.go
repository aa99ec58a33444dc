package throttle

import (
	"fmt"
	"time"

	"github.com/undertone/confessbot/internal/db"
)

// Outcome classifies a submission attempt.
type Outcome int

const (
	// Accept admits the submission: the user is outside the cooldown window
	// (or has never submitted).
	Accept Outcome = iota
	// AcceptWithCredit admits a submission inside the cooldown window by
	// spending one bonus credit.
	AcceptWithCredit
	// AcceptBanned admits the submission into the silent discard path. The
	// user is told the content was discarded by moderation, never that they
	// are banned.
	AcceptBanned
	// Reject refuses the submission until the cooldown window has passed.
	Reject
)

type Decision struct {
	Outcome Outcome
	// Wait is the remaining cooldown, set on Reject only.
	Wait time.Duration
}

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case AcceptWithCredit:
		return "accept_credit"
	case AcceptBanned:
		return "accept_banned"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// Decide applies the cooldown/credit rules to a submission attempt at now.
// It does not mutate the session; see Apply.
func Decide(session *db.UserSession, window time.Duration, now time.Time) Decision {
	if session.IsBanned {
		return Decision{Outcome: AcceptBanned}
	}
	if session.ConfessionTime == 0 {
		return Decision{Outcome: Accept}
	}
	elapsed := time.Duration(now.UnixMilli()-session.ConfessionTime) * time.Millisecond
	if elapsed >= window {
		return Decision{Outcome: Accept}
	}
	if session.FreeConfessions > 0 {
		return Decision{Outcome: AcceptWithCredit}
	}
	return Decision{Outcome: Reject, Wait: window - elapsed}
}

// Apply mutates the session for an accepted decision. ConfessionTime is
// refreshed on every accepted branch, including the banned one; the credit
// balance changes only when a credit was the reason cooldown was bypassed.
func (d Decision) Apply(session *db.UserSession, now time.Time) {
	switch d.Outcome {
	case Reject:
		return
	case AcceptWithCredit:
		if session.FreeConfessions > 0 {
			session.FreeConfessions--
		}
	}
	session.ConfessionTime = now.UnixMilli()
}

// FormatWait renders the remaining cooldown as whole hours and minutes, the
// way the rejection notice presents it. A sub-minute remainder rounds up so
// the user is never told to wait "0h 0m".
func FormatWait(wait time.Duration) string {
	if wait <= 0 {
		return "0h 0m"
	}
	hours := int(wait.Hours())
	minutes := int(wait.Minutes()) % 60
	if hours == 0 && minutes == 0 {
		minutes = 1
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
