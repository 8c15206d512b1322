package model

import "time"

// UserCredential stores a user's exchange API credential. The key, secret and
// passphrase columns only ever hold vault ciphertext, never plaintext.
type UserCredential struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	UserID              uint      `gorm:"not null;index:idx_user_cred_exchange,unique" json:"user_id"`
	Exchange            string    `gorm:"size:30;not null;index:idx_user_cred_exchange,unique" json:"exchange"`
	APIKeyEncrypted     string    `gorm:"column:api_key;type:text" json:"-"`
	SecretEncrypted     string    `gorm:"column:api_secret;type:text" json:"-"`
	PassphraseEncrypted string    `gorm:"column:api_passphrase;type:text" json:"-"`
	Testnet             bool      `json:"testnet"`
	Enabled             bool      `json:"enabled"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (UserCredential) TableName() string {
	return "user_credentials"
}
