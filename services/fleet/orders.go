package fleet

import (
	"strconv"
	"time"
)

// Order is a production order as stored at intake.
type Order struct {
	ID                int64          `json:"id"`
	CustomerName      string         `json:"customer_name"`
	CustomerEmail     string         `json:"customer_email"`
	CustomerPhone     string         `json:"customer_phone,omitempty"`
	Category          string         `json:"category"`
	Design            string         `json:"design,omitempty"`
	Stone             string         `json:"stone,omitempty"`
	Metal             string         `json:"metal"`
	Size              *float64       `json:"size,omitempty"`
	Price             *float64       `json:"price,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	CanonicalFilename string         `json:"filename"`
	ExternalTaskRef   map[string]any `json:"external_task_ref"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Suggestion is a scored archive match frozen at intake.
type Suggestion struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Score    int    `json:"score"`
	TempLink string `json:"temp_link"`
}

// Assignment binds an order to an agent. Rows are append-only; the latest one
// names the current assignee.
type Assignment struct {
	ID      int64     `json:"id"`
	OrderID int64     `json:"order_id"`
	AgentID string    `json:"agent_id"`
	TaskID  string    `json:"task_id"`
	TS      time.Time `json:"ts"`
}

// TaskIDForOrder is the task id used when an assignment names none.
func TaskIDForOrder(orderID int64) string {
	return "TASK-" + strconv.FormatInt(orderID, 10)
}
