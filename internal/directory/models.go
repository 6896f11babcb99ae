package directory

// User is the identity record owned by the directory. Email is the global
// join key and is unique across the table. The hashed password is opaque; the
// cleartext never touches storage.
type User struct {
	ID             uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Email          string `gorm:"column:email;uniqueIndex;not null"`
	HashedPassword string `gorm:"column:hashed_password;not null"`
	FullName       string `gorm:"column:full_name"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (User) TableName() string {
	return "users"
}

// OAuthLink associates one user with one external identity. A user may link
// each provider at most once; the external id is not unique across users
// because the provider's own systems guarantee that.
type OAuthLink struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     uint   `gorm:"column:user_id;not null;uniqueIndex:idx_oauth_links_user_provider"`
	Provider   string `gorm:"column:provider;not null;uniqueIndex:idx_oauth_links_user_provider"`
	ExternalID string `gorm:"column:external_id;not null"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (OAuthLink) TableName() string {
	return "oauth_links"
}
