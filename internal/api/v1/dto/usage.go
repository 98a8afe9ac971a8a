package dto

import "studybuddy/internal/model"

// UsageResponseDTO is the current usage together with the plan it is measured against.
type UsageResponseDTO struct {
	Plan  model.PlanLimits    `json:"plan"`
	Usage model.UsageSnapshot `json:"usage"`
}

// DocumentUploadRequestDTO reserves one document upload.
type DocumentUploadRequestDTO struct {
	Filename  string `json:"filename" validate:"required,max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"gte=0"`
}

// LectureUploadRequestDTO reserves one lecture recording.
type LectureUploadRequestDTO struct {
	Title     string `json:"title" validate:"required,max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"gte=0"`
}

// ReservationResponseDTO confirms an admitted upload.
type ReservationResponseDTO struct {
	Reservation *model.Reservation `json:"reservation"`
}
