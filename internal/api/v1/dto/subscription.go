package dto

// SubscriptionCheckoutRequest selects the plan to buy.
type SubscriptionCheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=commited locked-in"`
}

// URLResponseDTO carries a redirect URL.
type URLResponseDTO struct {
	URL string `json:"url"`
}
