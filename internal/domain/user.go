package domain

// User Model
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`                    // Primary key
	Username string `gorm:"size:64;unique;not null" json:"username"` // Unique username
	Email    string `gorm:"size:255;unique;not null" json:"email"`   // Unique email, used to resolve invitations
	Password string `gorm:"not null" json:"-"`                       // Hashed password
}
