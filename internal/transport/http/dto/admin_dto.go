package dto

type AdminLoginResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
}

type AdminGrantRequest struct {
	BuyerID  int64 `json:"buyer_id"`
	CourseID int64 `json:"course_id"`
}

type AdminGrantResponse struct {
	EntitlementID int64 `json:"entitlement_id"`
	BuyerID       int64 `json:"buyer_id"`
	CourseID      int64 `json:"course_id"`
	GrantedAt     int64 `json:"granted_at"`
	Created       bool  `json:"created"`
}
