package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire formats for dates in the record file. Both are locale independent
// and carry no zone; values are read back in the local zone.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05"
)

type entityJSON struct {
	ID        string         `json:"id"`
	Company   string         `json:"company"`
	Position  string         `json:"position"`
	AppliedOn string         `json:"appliedOn,omitempty"`
	Status    Status         `json:"status"`
	Folder    string         `json:"folder,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	FollowUp  string         `json:"followUp,omitempty"`
	Documents []documentJSON `json:"documents"`
}

type documentJSON struct {
	Path      string `json:"path"`
	Timestamp string `json:"timestamp,omitempty"`
	Name      string `json:"name"`
}

func (e Entity) MarshalJSON() ([]byte, error) {
	out := entityJSON{
		ID:        e.ID,
		Company:   e.Company,
		Position:  e.Position,
		AppliedOn: formatTime(e.AppliedOn, DateLayout),
		Status:    e.Status,
		Folder:    e.Folder,
		Notes:     e.Notes,
		FollowUp:  formatTime(e.FollowUp, DateLayout),
		Documents: make([]documentJSON, 0, len(e.Documents)),
	}
	for _, doc := range e.Documents {
		out.Documents = append(out.Documents, documentJSON{
			Path:      doc.Path,
			Timestamp: formatTime(doc.Timestamp, DateTimeLayout),
			Name:      doc.Name,
		})
	}
	return json.Marshal(out)
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	var in entityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	appliedOn, err := parseTime(in.AppliedOn, DateLayout)
	if err != nil {
		return fmt.Errorf("entity %s appliedOn: %w", in.ID, err)
	}
	followUp, err := parseTime(in.FollowUp, DateLayout)
	if err != nil {
		return fmt.Errorf("entity %s followUp: %w", in.ID, err)
	}
	status := in.Status
	if status == "" {
		status = StatusPending
	}
	*e = Entity{
		ID:        in.ID,
		Company:   in.Company,
		Position:  in.Position,
		AppliedOn: appliedOn,
		Status:    status,
		Folder:    in.Folder,
		Notes:     in.Notes,
		FollowUp:  followUp,
	}
	for _, doc := range in.Documents {
		ts, err := parseTime(doc.Timestamp, DateTimeLayout)
		if err != nil {
			return fmt.Errorf("entity %s document %s: %w", in.ID, doc.Path, err)
		}
		e.Documents = append(e.Documents, DocumentRef{Path: doc.Path, Timestamp: ts, Name: doc.Name})
	}
	return nil
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}

func parseTime(raw, layout string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(layout, raw, time.Local)
}
