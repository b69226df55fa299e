package model

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the assessed risk tier of a case. The empty value means not yet assessed.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// DefaultRiskLevel is used for work items created before any assessment arrived.
const DefaultRiskLevel = RiskMedium

func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if r.Rank() == 0 {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}

// Rank orders risk levels from 1 (low) to 4 (critical). Unknown values rank 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

func (r RiskLevel) IsAssessed() bool {
	return r.Rank() > 0
}

// OrDefault returns the default level when r is unassessed.
func (r RiskLevel) OrDefault() RiskLevel {
	if !r.IsAssessed() {
		return DefaultRiskLevel
	}
	return r
}

// Priority is derived from the risk level: higher risk is reviewed first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func PriorityFor(r RiskLevel) Priority {
	switch r.OrDefault() {
	case RiskLow:
		return PriorityLow
	case RiskHigh:
		return PriorityHigh
	case RiskCritical:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// RefreshPolicy maps a risk tier to the interval after which a completed review must be repeated.
type RefreshPolicy struct {
	Low      time.Duration
	Medium   time.Duration
	High     time.Duration
	Critical time.Duration
}

const day = 24 * time.Hour

func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{
		Low:      730 * day,
		Medium:   365 * day,
		High:     90 * day,
		Critical: 30 * day,
	}
}

func RefreshPolicyFromDays(low, medium, high, critical int) RefreshPolicy {
	return RefreshPolicy{
		Low:      time.Duration(low) * day,
		Medium:   time.Duration(medium) * day,
		High:     time.Duration(high) * day,
		Critical: time.Duration(critical) * day,
	}
}

func (p RefreshPolicy) Interval(r RiskLevel) time.Duration {
	switch r.OrDefault() {
	case RiskLow:
		return p.Low
	case RiskHigh:
		return p.High
	case RiskCritical:
		return p.Critical
	default:
		return p.Medium
	}
}
