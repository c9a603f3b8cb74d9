// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for splitting a category's
// spending limit across its members. Each rule type has its own strategy
// that encapsulates the share calculation.
package services

import (
	"fmt"

	"kitty/internal/core"
)

// SplitRule is the strategy interface for computing one member's share of
// a category's spending limit.
type SplitRule interface {
	// Share returns the amount one member owes given the category limit
	// and the effective member count. The count is always positive.
	Share(limit core.Money, memberCount int) core.Money
}

// EqualSplitRule divides the limit evenly across members.
type EqualSplitRule struct{}

// Share returns limit / memberCount with truncating integer division.
// Remainder cents stay unassigned rather than overcharging anyone.
func (EqualSplitRule) Share(limit core.Money, memberCount int) core.Money {
	return core.Money{Cents: limit.Cents / int64(memberCount)}
}

// splitRules maps rule types to their corresponding strategies.
var splitRules = map[core.RuleType]SplitRule{
	core.EqualSplit: EqualSplitRule{},
}

// GetSplitRule returns the strategy for a rule type.
// Returns an error if the rule type is not supported.
func GetSplitRule(rule core.RuleType) (SplitRule, error) {
	r, ok := splitRules[rule]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownRule, rule)
	}
	return r, nil
}

// RegisterSplitRule allows registering custom split strategies for new
// rule types without modifying the registry.
func RegisterSplitRule(rule core.RuleType, strategy SplitRule) {
	splitRules[rule] = strategy
}
