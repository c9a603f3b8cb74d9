package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// EqualSplit divides a category's spending limit evenly among its
	// effective members.
	EqualSplit RuleType = "EQUAL_SPLIT"

	// StatusSuccess marks a transaction that was applied to the pool totals.
	StatusSuccess TransactionStatus = "SUCCESS"
	// StatusFailed marks a transaction recorded for a movement that did not apply.
	StatusFailed TransactionStatus = "FAILED"

	// RoleParticipant is the default role granted to event participants.
	RoleParticipant = "PARTICIPANT"
)

type (
	RuleType          string
	TransactionStatus string

	Money struct {
		Cents int64
	}

	// Group is a named collection of users who may jointly create events.
	Group struct {
		ID        string
		Name      string
		CreatorID string
	}

	User struct {
		ID    string
		Name  string
		Email string
	}

	// Participant associates a user with an event.
	Participant struct {
		UserID   string
		EventID  string
		Role     string
		UserName string // populated on reads joined with users
	}

	// Event is a pooled-spending occasion owning participants and categories.
	// TotalPooled is a denormalized running total kept consistent with the
	// transaction ledger by the atomic deposit path.
	Event struct {
		ID           string
		Name         string
		GroupID      string
		BudgetGoal   Money
		TotalPooled  Money
		CreatedAt    time.Time
		Participants []Participant
		Categories   []ExpenseCategory
	}

	// ExpenseCategory is a sub-budget within an event with its own
	// spending limit and opt-in contributor roster.
	ExpenseCategory struct {
		ID            string
		EventID       string
		Name          string
		SpendingLimit Money
		TotalPooled   Money
		Rule          RuleType
		Members       []CategoryMember
	}

	// CategoryMember records that a user opted in to a category and is
	// financially obligated to it under the category's split rule.
	CategoryMember struct {
		UserID     string
		CategoryID string
	}

	// Transaction is an immutable, append-only record of a signed monetary
	// movement. Positive amounts are contributions, negative amounts are
	// refunds or vendor payouts. Never mutated or deleted once written.
	Transaction struct {
		ID           string
		Amount       Money
		UserID       string
		EventID      string
		CategoryID   string
		Status       TransactionStatus
		Note         string
		CreatedAt    time.Time
		UserName     string // populated on audit reads
		CategoryName string // populated on audit reads
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyGroupID     = errors.New("empty group id")
	ErrEmptyUserID      = errors.New("empty user id")
	ErrEmptyCategoryID  = errors.New("empty category id")
	ErrNegativeLimit    = errors.New("negative spending limit")
	ErrNoParticipants   = errors.New("event needs at least one participant")
	ErrUnknownRule      = errors.New("unknown split rule")
)

// Validate rejects zero amounts. Sign is legitimate state: contributions
// are positive, refunds negative.
func (m Money) Validate() error {
	if m.Cents == 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (r RuleType) Validate() error {
	switch r {
	case EqualSplit:
		return nil
	default:
		return ErrUnknownRule
	}
}

func (e Event) Validate() error {
	if len(strings.TrimSpace(e.Name)) == 0 {
		return ErrEmptyName
	}
	if len(e.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if strings.TrimSpace(e.GroupID) == "" {
		return ErrEmptyGroupID
	}
	if len(e.Participants) == 0 {
		return ErrNoParticipants
	}
	for i := range e.Categories {
		if err := e.Categories[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c ExpenseCategory) Validate() error {
	if len(strings.TrimSpace(c.Name)) == 0 {
		return ErrEmptyName
	}
	if c.SpendingLimit.Cents < 0 {
		return ErrNegativeLimit
	}
	if c.Rule != "" {
		if err := c.Rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return ErrEmptyCategoryID
	}
	return t.Amount.Validate()
}

// DeriveBudgetGoal returns the explicit goal when set, otherwise the sum
// of all category spending limits. Used at creation time and as a
// read-time repair when a stored goal of zero coexists with non-zero
// category limits.
func (e Event) DeriveBudgetGoal() Money {
	if e.BudgetGoal.Cents > 0 {
		return e.BudgetGoal
	}
	var sum int64
	for _, c := range e.Categories {
		sum += c.SpendingLimit.Cents
	}
	return Money{Cents: sum}
}

// PercentFunded reports pool progress toward the budget goal, clamped to
// [0, 100]. A zero goal reports zero.
func (e Event) PercentFunded() int {
	goal := e.DeriveBudgetGoal().Cents
	if goal <= 0 {
		return 0
	}
	pct := e.TotalPooled.Cents * 100 / goal
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}
