package models

import (
	"bytes"
	"encoding/json"
)

// RegNo is a stringified registration number. Roster sources hand these out
// as JSON numbers or strings; both decode to the same text, ex: 7 and "7".
type RegNo string

func (r *RegNo) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = RegNo(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = RegNo(n.String())
	return nil
}

func (r RegNo) String() string { return string(r) }

// Student is one roster entry. Immutable for the life of an attendance session.
type Student struct {
	ID         string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SemesterID string `gorm:"column:semester_id;type:uuid;index" json:"semesterId"`
	RegNo      RegNo  `gorm:"column:reg_no;type:text;index" json:"regNo"`
	Name       string `gorm:"column:name;type:text" json:"name"`
}

func (Student) TableName() string { return "students" }
