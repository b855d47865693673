package consts

const (
	ProjectKeyPrefix  = "projects:"
	OwnerIndexPrefix  = "owners:"
	OwnerIndexSuffix  = ":projects"
	UserProfilePrefix = "users:"
	RevokedPrefix     = "revoked:"
	DedupeKeyPrefix   = "idem"

	TracerName = "firetrack"

	ProfilesPartition = "profiles"
)

// ProjectKey is the document key of a project.
func ProjectKey(id string) string { return ProjectKeyPrefix + id }

// ProjectChannel carries change envelopes for one project. It shares the
// document key so a subscriber never has to know two names.
func ProjectChannel(id string) string { return ProjectKeyPrefix + id }

// OwnerIndexKey is the sorted set of project ids created by an owner.
func OwnerIndexKey(ownerID string) string { return OwnerIndexPrefix + ownerID + OwnerIndexSuffix }

// OwnerChannel carries list notifications for an owner's projects.
func OwnerChannel(ownerID string) string { return OwnerIndexPrefix + ownerID }

func UserProfileKey(userID string) string { return UserProfilePrefix + userID }

func RevokedKey(digest string) string { return RevokedPrefix + digest }
