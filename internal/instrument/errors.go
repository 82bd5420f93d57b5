package instrument

import "strings"

// Issue codes.
const (
	CodeRequired         = "required"
	CodeInvalid          = "invalid"
	CodeOutOfRange       = "out_of_range"
	CodeUnknown          = "unknown"
	CodeScheduleMismatch = "schedule_mismatch"
	CodeMarketData       = "market_data"
)

// Issue is a single validation finding.
type Issue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationError aggregates instrument validation issues.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "instrument validation failed"
	}
	return "instrument validation failed: " + strings.Join(e.Messages(), "; ")
}

func (e *ValidationError) Add(code, field, message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	e.Issues = append(e.Issues, Issue{Code: code, Field: field, Message: message})
}

// Messages renders every issue as "field: message".
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		out = append(out, issue.String())
	}
	return out
}

// HasCode reports whether any issue carries code.
func (e *ValidationError) HasCode(code string) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
