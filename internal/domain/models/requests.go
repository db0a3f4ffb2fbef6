package models

// Requests for the status/control HTTP endpoints.

type TradesRequest struct {
	Limit    int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
	Strategy string `query:"strategy" json:"strategy"`
}

type PositionsRequest struct {
	Strategy string `query:"strategy" json:"strategy"`
	Symbol   string `query:"symbol" json:"symbol"`
}

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type SessionStopRequest struct {
	Reason string `json:"reason" default:"session_stop" validate:"oneof=session_stop manual"`
}

type SessionStartRequest struct {
	// Capital of the new session; zero keeps the configured initial capital.
	Capital float64 `json:"capital" validate:"gte=0"`
}
