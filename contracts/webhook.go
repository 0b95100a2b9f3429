package contracts

import "time"

// WebhookDelivery is the immutable record of one inbound webhook POST,
// kept for replay/audit even when it is filtered or fails to parse.
type WebhookDelivery struct {
	ID             int64     `json:"id"`
	Provider       string    `json:"provider"`
	EventType      string    `json:"eventType"`
	DeliveryID     string    `json:"deliveryId"`
	SignatureValid bool      `json:"signatureValid"`
	Payload        []byte    `json:"payload"`
	Processed      bool      `json:"processed"`
	JobID          *int64    `json:"jobId,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
