package dto

import "time"

type EntitlementResponse struct {
	CourseID  int64     `json:"course_id"`
	GrantedAt time.Time `json:"granted_at"`
}

type MeResponse struct {
	BuyerID      int64                 `json:"buyer_id"`
	Username     string                `json:"username,omitempty"`
	FullName     string                `json:"full_name,omitempty"`
	Entitlements []EntitlementResponse `json:"entitlements"`
}
