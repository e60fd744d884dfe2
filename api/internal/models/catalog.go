package models

import "time"

// KBFile statuses.
const (
	KBFileInProgress = "in_progress"
	KBFileCompleted  = "completed"
	KBFileFailed     = "failed"
)

// KnowledgeBase is a named document collection crews can draw on.
type KnowledgeBase struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Description      *string   `json:"description,omitempty"`
	Strategy         string    `json:"strategy"`
	VectorStoreID    *string   `json:"vector_store_id,omitempty"`
	ExpiresAfterDays *int      `json:"expires_after_days,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// KBFile is one document tracked inside a knowledge base.
type KBFile struct {
	ID                int64     `json:"id"`
	KBID              int64     `json:"kb_id"`
	Filename          string    `json:"filename"`
	MimeType          *string   `json:"mime_type,omitempty"`
	RemoteFileID      *string   `json:"remote_file_id,omitempty"`
	VectorStoreFileID *string   `json:"vector_store_file_id,omitempty"`
	LocalFilePath     *string   `json:"local_file_path,omitempty"`
	Status            string    `json:"status"`
	UsageBytes        *int64    `json:"usage_bytes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// AIProvider is an upstream LLM vendor entry in the catalog.
type AIProvider struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	BaseURL   *string   `json:"base_url,omitempty"`
	IsEnabled bool      `json:"is_enabled"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AIModel is one model offered by a provider, with cost and limit metadata.
type AIModel struct {
	ID                  int64     `json:"id"`
	ProviderID          int64     `json:"provider_id"`
	Name                string    `json:"name"`
	Modality            string    `json:"modality"`
	InputCostPer1M      float64   `json:"input_cost_per_1m"`
	OutputCostPer1M     float64   `json:"output_cost_per_1m"`
	Currency            string    `json:"currency"`
	ContextWindowTokens *int      `json:"context_window_tokens,omitempty"`
	MaxOutputTokens     *int      `json:"max_output_tokens,omitempty"`
	IsDefault           bool      `json:"is_default"`
	IsEnabled           bool      `json:"is_enabled"`
	CreatedAt           time.Time `json:"created_at"`
}

// AIUsageLog records token consumption of one executor LLM call.
type AIUsageLog struct {
	ID               int64     `json:"id"`
	RunID            *string   `json:"run_id,omitempty"`
	ProviderName     string    `json:"provider_name"`
	ModelName        string    `json:"model_name"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	EstimatedCost    float64   `json:"estimated_cost"`
	CreatedAt        time.Time `json:"created_at"`
}

// TestRun is a Test Lab conversation session; the id is supplied by the
// client so the portal can correlate across page reloads.
type TestRun struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Persona   *string   `json:"persona,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TestRunEvent is one message within a test run.
type TestRunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
