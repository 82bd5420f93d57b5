package domain

import "time"

// Lineage stage names in pipeline order.
const (
	StageValidate  = "validate"
	StageBootstrap = "bootstrap"
	StageSchedule  = "schedule"
	StagePrice     = "price"
)

// LineageEntry links one pipeline stage to the hashes of what it consumed
// and produced. RecordedAt is informational and never part of a hash.
type LineageEntry struct {
	Seq         int       `json:"seq"`
	Stage       string    `json:"stage"`
	InputHashes []string  `json:"inputHashes"`
	InputHash   string    `json:"inputHash"`
	OutputHash  string    `json:"outputHash"`
	PrevHash    string    `json:"prevHash"`
	EntryHash   string    `json:"entryHash"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// LineageRecord is the append-only hash chain of a run.
type LineageRecord struct {
	RunID   string         `json:"runId"`
	Entries []LineageEntry `json:"entries"`
}

// Head returns the entry hash of the last entry, or "" for an empty record.
func (r LineageRecord) Head() string {
	if len(r.Entries) == 0 {
		return ""
	}
	return r.Entries[len(r.Entries)-1].EntryHash
}

// Stages lists the recorded stage names in order.
func (r LineageRecord) Stages() []string {
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Stage)
	}
	return out
}

// Clone returns a deep copy.
func (r LineageRecord) Clone() LineageRecord {
	out := LineageRecord{RunID: r.RunID, Entries: make([]LineageEntry, len(r.Entries))}
	for i, e := range r.Entries {
		e.InputHashes = append([]string(nil), e.InputHashes...)
		out.Entries[i] = e
	}
	return out
}
