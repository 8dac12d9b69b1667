package progress

import (
	"time"
)

// Stage is a step of the extraction pipeline.
type Stage string

const (
	StageUploading     Stage = "UPLOADING"
	StageValidating    Stage = "VALIDATING"
	StageExtracting    Stage = "EXTRACTING"
	StageOCRProcessing Stage = "OCR_PROCESSING"
	StageLLMParsing    Stage = "LLM_PARSING"
	StageLLMAnalyzing  Stage = "LLM_ANALYZING"
	StageSaving        Stage = "SAVING"
	StageComplete      Stage = "COMPLETE"
	StageFailed        Stage = "FAILED"
)

// Terminal reports whether no further transition is accepted from s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

var validStages = map[Stage]bool{
	StageUploading:     true,
	StageValidating:    true,
	StageExtracting:    true,
	StageOCRProcessing: true,
	StageLLMParsing:    true,
	StageLLMAnalyzing:  true,
	StageSaving:        true,
	StageComplete:      true,
	StageFailed:        true,
}

func (s Stage) Valid() bool { return validStages[s] }

// Method labels the extraction strategy that produced a session's rows.
type Method string

const (
	MethodFastExtraction Method = "fast_extraction"
	MethodOCRLLMFallback Method = "ocr_llm_fallback"
)

func (m Method) Valid() bool {
	return m == MethodFastExtraction || m == MethodOCRLLMFallback
}

// Session is one tracked upload. Values handed out by the Registry are
// copies; mutating them has no effect on the registry.
type Session struct {
	ID       string
	FileName string
	// Owner is the subject that started the upload. Empty means unowned.
	Owner          string
	Stage          Stage
	Progress       int
	Message        string
	Method         *Method
	Error          *string
	StartedAt      time.Time
	UpdatedAt      time.Time
	EstimatedTotal *time.Duration
	Result         map[string]any
}

// VisibleTo reports whether subject may observe or acknowledge s. Admins see
// every session.
func (s Session) VisibleTo(subject string, admin bool) bool {
	return admin || s.Owner == "" || s.Owner == subject
}

func (s Session) clone() Session {
	out := s
	if s.Method != nil {
		m := *s.Method
		out.Method = &m
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	if s.EstimatedTotal != nil {
		d := *s.EstimatedTotal
		out.EstimatedTotal = &d
	}
	if s.Result != nil {
		out.Result = make(map[string]any, len(s.Result))
		for k, v := range s.Result {
			out.Result[k] = v
		}
	}
	return out
}

// SessionResponse is the JSON view of a Session.
type SessionResponse struct {
	SessionID                 string         `json:"session_id"`
	FileName                  string         `json:"file_name"`
	Stage                     Stage          `json:"stage"`
	Progress                  int            `json:"progress"`
	Message                   string         `json:"message"`
	Method                    *Method        `json:"method"`
	Error                     *string        `json:"error"`
	StartedAt                 time.Time      `json:"started_at"`
	UpdatedAt                 time.Time      `json:"updated_at"`
	ElapsedSeconds            float64        `json:"elapsed_seconds"`
	EstimatedTotalSeconds     *float64       `json:"estimated_total_seconds"`
	EstimatedRemainingSeconds *float64       `json:"estimated_remaining_seconds"`
	Result                    map[string]any `json:"result,omitempty"`
}

// ToResponse renders s as seen at now.
func (s Session) ToResponse(now time.Time) SessionResponse {
	elapsed := now.Sub(s.StartedAt)
	if s.Stage.Terminal() {
		elapsed = s.UpdatedAt.Sub(s.StartedAt)
	}
	resp := SessionResponse{
		SessionID:      s.ID,
		FileName:       s.FileName,
		Stage:          s.Stage,
		Progress:       s.Progress,
		Message:        s.Message,
		Method:         s.Method,
		Error:          s.Error,
		StartedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
		ElapsedSeconds: elapsed.Seconds(),
		Result:         s.Result,
	}
	if s.EstimatedTotal != nil {
		total := s.EstimatedTotal.Seconds()
		resp.EstimatedTotalSeconds = &total
		if !s.Stage.Terminal() {
			remaining := total - elapsed.Seconds()
			if remaining < 0 {
				remaining = 0
			}
			resp.EstimatedRemainingSeconds = &remaining
		}
	}
	return resp
}
