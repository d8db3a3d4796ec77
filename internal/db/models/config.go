package models

// Config stores key-value settings (API key, etc.)
type Config struct {
	Key   string `gorm:"primaryKey"`
	Value string
}
