package dto

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
	MirrorDB  string `json:"mirror_db"`
	Redis     string `json:"redis"`
	PlanCount int    `json:"plan_count"`
}
