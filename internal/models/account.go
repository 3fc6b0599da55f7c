package models

import "time"

// Account represents a billing/reporting account owning a fleet of devices
type Account struct {
	BaseModel

	AccountID   string `json:"accountId" db:"account_id"`
	Description string `json:"description" db:"description"`
	ContactName string `json:"contactName,omitempty" db:"contact_name"`
	IsActive    bool   `json:"isActive" db:"is_active"`

	// Integration settings for the forwarder service
	HTTPWebhookURL string `json:"httpWebhookUrl,omitempty" db:"http_webhook_url"`
	MQTTBrokerURL  string `json:"mqttBrokerUrl,omitempty" db:"mqtt_broker_url"`
	MQTTUsername   string `json:"mqttUsername,omitempty" db:"mqtt_username"`
	MQTTPassword   string `json:"-" db:"mqtt_password"`
	MQTTTopic      string `json:"mqttTopic,omitempty" db:"mqtt_topic"`

	LastEventAt *time.Time `json:"lastEventAt,omitempty" db:"last_event_at"`
}

// ServiceAccount represents a machine credential for the REST API
type ServiceAccount struct {
	BaseModel

	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	IsAdmin      bool       `json:"isAdmin" db:"is_admin"`
	AccountID    *string    `json:"accountId,omitempty" db:"account_id"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
}
