package model

type SegmentType string

const (
	SegmentSQL  SegmentType = "SQL"
	SegmentFact SegmentType = "FACT"
)

// Segment restricts an analysis to a set of (user id, date) pairs.
type Segment struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Type        SegmentType `json:"type" yaml:"type" validate:"oneof=SQL FACT"`
	SQL         string      `json:"sql,omitempty" yaml:"sql,omitempty"`
	UserIDType  string      `json:"userIdType,omitempty" yaml:"userIdType,omitempty"`
	FactTableID string      `json:"factTableId,omitempty" yaml:"factTableId,omitempty"`
	Filters     []string    `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// GetUserIDType defaults to "user_id" like the segment editor does.
func (s *Segment) GetUserIDType() string {
	if s.UserIDType == "" {
		return "user_id"
	}
	return s.UserIDType
}
