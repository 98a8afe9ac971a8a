package model

import "fmt"

// PlanTier is the subscription level that determines quota caps.
type PlanTier string

const (
	PlanCooked   PlanTier = "cooked"
	PlanCommited PlanTier = "commited"
	PlanLockedIn PlanTier = "locked-in"
)

// Unlimited marks a cap that never denies.
const Unlimited = -1

const mebibyte = 1 << 20

// PlanLimits are the static ceilings for one tier.
type PlanLimits struct {
	Tier              PlanTier `json:"tier"`
	DisplayName       string   `json:"display_name"`
	WeeklyDocumentCap int      `json:"weekly_document_cap"` // Unlimited (-1) means unbounded
	MonthlyLectureCap int      `json:"monthly_lecture_cap"`
	MaxFileSizeBytes  int64    `json:"max_file_size_bytes"`
	// UpgradeTo is the next tier up, empty at the top tier.
	UpgradeTo PlanTier `json:"upgrade_to,omitempty"`
}

var planLimits = map[PlanTier]PlanLimits{
	PlanCooked: {
		Tier:              PlanCooked,
		DisplayName:       "Cooked",
		WeeklyDocumentCap: 2,
		MonthlyLectureCap: 2,
		MaxFileSizeBytes:  10 * mebibyte,
		UpgradeTo:         PlanCommited,
	},
	PlanCommited: {
		Tier:              PlanCommited,
		DisplayName:       "Commited",
		WeeklyDocumentCap: 15,
		MonthlyLectureCap: 10,
		MaxFileSizeBytes:  25 * mebibyte,
		UpgradeTo:         PlanLockedIn,
	},
	PlanLockedIn: {
		Tier:              PlanLockedIn,
		DisplayName:       "Locked-In",
		WeeklyDocumentCap: Unlimited,
		MonthlyLectureCap: 40,
		MaxFileSizeBytes:  50 * mebibyte,
	},
}

// LimitsFor returns the limits of a known tier.
func LimitsFor(tier PlanTier) (PlanLimits, bool) {
	l, ok := planLimits[tier]
	return l, ok
}

// ParsePlanTier validates a tier name.
func ParsePlanTier(s string) (PlanTier, error) {
	tier := PlanTier(s)
	if _, ok := planLimits[tier]; !ok {
		return "", fmt.Errorf("unknown plan tier %q", s)
	}
	return tier, nil
}

// CapFor returns the cap of the given resource on this plan.
func (l PlanLimits) CapFor(resource ResourceType) int {
	switch resource {
	case ResourceDocument:
		return l.WeeklyDocumentCap
	case ResourceLecture:
		return l.MonthlyLectureCap
	}
	return 0
}
