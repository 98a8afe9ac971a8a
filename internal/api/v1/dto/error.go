package dto

// ErrorResponseDTO is the JSON body of every non-2xx API response.
type ErrorResponseDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// UpgradeTo names the plan that lifts a quota denial.
	UpgradeTo  string `json:"upgrade_to,omitempty"`
	UpgradeURL string `json:"upgrade_url,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
	Used       *int   `json:"used,omitempty"`
	// LastKind is the failure class of the final provider attempt.
	LastKind string `json:"last_kind,omitempty"`
}
