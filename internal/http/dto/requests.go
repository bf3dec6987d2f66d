package dto

type SessionRequest struct {
	UserID   int64   `json:"user_id"`
	Username *string `json:"username,omitempty"`
}

type CreateTaskRequest struct {
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Priority    bool     `json:"priority"`
}

type RespondOfferRequest struct {
	Accept bool `json:"accept"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"` // favor_customer / favor_executor
}

type AvailabilityRequest struct {
	AcceptingWork bool `json:"accepting_work"`
}

type UpdateTagsRequest struct {
	Tags map[string][]string `json:"tags"` // category -> tags
}

type AmountRequest struct {
	Amount float64 `json:"amount"`
}

type AddReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}
