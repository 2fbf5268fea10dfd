package models

// UserRole is the app-level role carried in the bearer token's app_metadata.
type UserRole string

const (
	RoleFaculty UserRole = "faculty"
	RoleAdmin   UserRole = "admin"
)
