package store

import "time"

// BookingRequest 预订请求，补偿只修改 Status 与 ErrorMessage
type BookingRequest struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	TripRequestID string    `gorm:"size:64;index" json:"trip_request_id"`
	UserID        string    `gorm:"size:64;index" json:"user_id"`
	OfferID       string    `gorm:"size:64" json:"offer_id"`
	Status        string    `gorm:"size:32;index" json:"status"`
	ErrorMessage  string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName 表名
func (BookingRequest) TableName() string { return "booking_requests" }

// CompensationDetails 补偿明细，以 JSON 存储
type CompensationDetails struct {
	ActionsExecuted            []string `json:"actions_executed"`
	Errors                     []string `json:"errors"`
	RequiresManualIntervention bool     `json:"requires_manual_intervention"`
}

// CompensationLog 补偿审计日志，只追加
type CompensationLog struct {
	ID                         string              `gorm:"primaryKey;size:36" json:"id"`
	TripRequestID              string              `gorm:"size:64;index" json:"trip_request_id"`
	BookingRequestID           string              `gorm:"size:64;index" json:"booking_request_id,omitempty"`
	CompensationType           string              `gorm:"size:32" json:"compensation_type"`
	FailureStage               string              `gorm:"size:16" json:"failure_stage"`
	FailureReason              string              `gorm:"type:text" json:"failure_reason"`
	Details                    CompensationDetails `gorm:"serializer:json;type:text" json:"details"`
	RequiresManualIntervention bool                `gorm:"index" json:"requires_manual_intervention"`
	CreatedAt                  time.Time           `gorm:"index" json:"created_at"`
}

// TableName 表名
func (CompensationLog) TableName() string { return "compensation_logs" }
