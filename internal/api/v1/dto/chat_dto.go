package dto

// ChatMessageDTO is one earlier turn of the conversation.
type ChatMessageDTO struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequestDTO asks one tutoring question, optionally about a stored material.
type ChatRequestDTO struct {
	MaterialID string           `json:"material_id" validate:"omitempty,uuid"`
	History    []ChatMessageDTO `json:"history" validate:"max=50,dive"`
	Message    string           `json:"message" validate:"required,max=4000"`
}

// ChatResponseDTO is the assistant's answer.
type ChatResponseDTO struct {
	Message  string `json:"message"`
	Provider string `json:"provider"`
}
