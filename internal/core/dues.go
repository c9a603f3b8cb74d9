package core

// Dues computation. Nothing here is persisted: a user's outstanding due
// is always re-derived from the category roster and the transaction
// ledger, so it cannot drift from the audit trail.

// CategoryDue is one category's share owed by a user.
type CategoryDue struct {
	CategoryID   string
	CategoryName string
	Share        Money
	MemberCount  int
	Settled      bool
}

// EffectiveMemberCount returns the explicit roster size, falling back to
// the full participant count when nobody opted in (global-pool fallback).
func EffectiveMemberCount(c ExpenseCategory, participantCount int) int {
	if n := len(c.Members); n > 0 {
		return n
	}
	return participantCount
}

// isMember reports whether the user owes into the category: either an
// explicit opt-in exists, or the roster is empty and every event
// participant is implicitly obligated. Non-participants never fall into
// the implicit branch.
func isMember(c ExpenseCategory, userID string, participant bool) bool {
	if len(c.Members) == 0 {
		return participant
	}
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func isParticipant(e Event, userID string) bool {
	for _, p := range e.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// hasSettled reports whether the ledger contains at least one positive
// SUCCESS transaction by the user against the category.
func hasSettled(ledger []Transaction, userID, categoryID string) bool {
	for _, t := range ledger {
		if t.UserID == userID && t.CategoryID == categoryID &&
			t.Status == StatusSuccess && t.Amount.Cents > 0 {
			return true
		}
	}
	return false
}

// OutstandingDues computes the per-category shares a user still owes for
// an event. Settled categories are included with Settled=true and a zero
// share so callers can render them as paid without recomputing.
func OutstandingDues(e Event, userID string, ledger []Transaction) []CategoryDue {
	participant := isParticipant(e, userID)
	dues := make([]CategoryDue, 0, len(e.Categories))
	for _, c := range e.Categories {
		if !isMember(c, userID, participant) {
			continue
		}
		n := EffectiveMemberCount(c, len(e.Participants))
		due := CategoryDue{
			CategoryID:   c.ID,
			CategoryName: c.Name,
			MemberCount:  n,
		}
		if hasSettled(ledger, userID, c.ID) {
			due.Settled = true
			dues = append(dues, due)
			continue
		}
		if n > 0 {
			due.Share = Money{Cents: c.SpendingLimit.Cents / int64(n)}
		}
		dues = append(dues, due)
	}
	return dues
}

// TotalDue sums the unsettled shares.
func TotalDue(dues []CategoryDue) Money {
	var sum int64
	for _, d := range dues {
		if !d.Settled {
			sum += d.Share.Cents
		}
	}
	return Money{Cents: sum}
}
