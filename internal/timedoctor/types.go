package timedoctor

import (
	"strconv"
	"strings"
)

// StringID tolerates upstream ids serialized as either JSON strings or
// bare numbers; no two endpoints agree.
type StringID string

func (s *StringID) UnmarshalJSON(b []byte) error {
	v := strings.TrimSpace(string(b))
	if v == "" || v == "null" {
		*s = ""
		return nil
	}
	if unq, err := strconv.Unquote(v); err == nil {
		*s = StringID(unq)
		return nil
	}
	*s = StringID(v)
	return nil
}

func (s StringID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

// User is a subject record as the upstream returns it. Every field is
// optional and no two endpoints return the same subset, which is exactly
// why name extraction walks an ordered candidate list.
type User struct {
	ID           StringID `json:"id"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"displayName"`
	FullName     string   `json:"fullName"`
	Username     string   `json:"username"`
	FirstName    string   `json:"firstName"`
	LastName     string   `json:"lastName"`
	Email        string   `json:"email"`
	Role         string   `json:"role"`
	TimeZone     string   `json:"timezone"`
	ComputerName string   `json:"computerName"`
}

// ActivityRecord is one entry from the activity/worklog endpoint; name-like
// fields are embedded inconsistently, sometimes nested under user.
type ActivityRecord struct {
	UserID       StringID `json:"userId"`
	UserName     string   `json:"userName"`
	User         *User    `json:"user"`
	ComputerName string   `json:"computerName"`
	DeviceID     string   `json:"deviceId"`
	Start        string   `json:"start"`
}
