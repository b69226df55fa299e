package onboarding

import (
	"context"
	"sort"

	"github.com/blnkfinance/onboarding/model"
)

// SuggestReviewer proposes the least loaded reviewer able to take work at the given risk
// level. It returns nil when nobody is eligible and never assigns anything.
func (o *Onboarding) SuggestReviewer(ctx context.Context, level model.RiskLevel) (*model.ReviewerSuggestion, error) {
	ctx, span := tracer.Start(ctx, "SuggestReviewer")
	defer span.End()

	workloads, err := o.datasource.ListReviewerWorkloads(ctx, o.now(), o.sla())
	if err != nil {
		return nil, err
	}
	return Suggest(workloads, level), nil
}

// SuggestReviewerForWorkItem suggests a reviewer for the item's current risk level.
func (o *Onboarding) SuggestReviewerForWorkItem(ctx context.Context, id model.WorkItemID) (*model.ReviewerSuggestion, error) {
	w, err := o.datasource.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.SuggestReviewer(ctx, w.RiskLevel)
}

// Suggest ranks eligible reviewers by fewest active items, then fewest overdue items, then
// the longest time since their last assignment with never-assigned reviewers first. The
// reviewer id breaks remaining ties.
func Suggest(workloads []model.ReviewerWorkload, level model.RiskLevel) *model.ReviewerSuggestion {
	level = level.OrDefault()

	eligible := make([]model.ReviewerWorkload, 0, len(workloads))
	for _, wl := range workloads {
		if wl.Active && wl.MaxRiskLevel.AtLeast(level) {
			eligible = append(eligible, wl)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.ActiveCount != b.ActiveCount {
			return a.ActiveCount < b.ActiveCount
		}
		if a.OverdueCount != b.OverdueCount {
			return a.OverdueCount < b.OverdueCount
		}
		switch {
		case a.LastAssignedAt == nil && b.LastAssignedAt != nil:
			return true
		case a.LastAssignedAt != nil && b.LastAssignedAt == nil:
			return false
		case a.LastAssignedAt != nil && !a.LastAssignedAt.Equal(*b.LastAssignedAt):
			return a.LastAssignedAt.Before(*b.LastAssignedAt)
		}
		return a.ReviewerID < b.ReviewerID
	})

	best := eligible[0]
	return &model.ReviewerSuggestion{
		ReviewerID:     best.ReviewerID,
		DisplayName:    best.DisplayName,
		ActiveCount:    best.ActiveCount,
		OverdueCount:   best.OverdueCount,
		LastAssignedAt: best.LastAssignedAt,
	}
}
