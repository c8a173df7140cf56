package retrieval

import "github.com/calderhq/navigator/internal/model"

const (
	RoleLearner    = "learner"
	RoleInstructor = "instructor"
	RoleStaff      = "staff"
	RoleAdmin      = "admin"
)

// AllowedAudiences maps a caller role to the audience tags it may read.
// Every role sees shared content; admins see everything. Unknown roles get
// shared content only.
func AllowedAudiences(role string) []string {
	switch role {
	case RoleLearner:
		return []string{model.AudienceAll, "learners"}
	case RoleInstructor:
		return []string{model.AudienceAll, "instructors"}
	case RoleStaff:
		return []string{model.AudienceAll, "staff"}
	case RoleAdmin:
		return []string{model.AudienceAll, "learners", "instructors", "staff", "admins"}
	default:
		return []string{model.AudienceAll}
	}
}
