package dto

import "github.com/opendraft/billing-backend/internal/models"

type SyncRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type TransactionListResponse struct {
	Email        string               `json:"email"`
	Count        int                  `json:"count"`
	Transactions []models.Transaction `json:"transactions"`
}

type SyncResponse struct {
	Synced bool                       `json:"synced"`
	Mirror *models.SubscriptionMirror `json:"mirror"`
}

type WebhookEventListResponse struct {
	Count  int                   `json:"count"`
	Events []models.WebhookEvent `json:"events"`
}
