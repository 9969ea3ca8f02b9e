package mongodb

const (
	UsersCollection = "users"

	// UsersByEmailIndex is the secondary index backing lookups by email.
	UsersByEmailIndex = "by_email"
)
