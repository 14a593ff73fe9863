package models

import (
	"encoding/json"
	"time"
)

// Document is one photographed waybill as tracked through the pipeline.
type Document struct {
	ID         int64           `json:"id"`
	ChatID     int64           `json:"chatId"`
	FileID     string          `json:"fileId"`
	PhotoPath  string          `json:"photoPath"`
	Status     Status          `json:"status"`
	Fields     *OcrFields      `json:"fields,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason,omitempty"`

	Delivery Delivery `json:"delivery"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}

// Delivery records the last CRM delivery attempt.
type Delivery struct {
	Status   string          `json:"status,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	SentAt   *time.Time      `json:"sentAt,omitempty"`
}

// Outcome is what the extraction and validation steps decided for a document.
type Outcome struct {
	Fields     *OcrFields
	Raw        json.RawMessage
	Confidence float64
	Status     Status
	Reason     string
}
