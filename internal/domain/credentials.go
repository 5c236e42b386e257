package domain

import "time"

// BrokerCredentials holds encrypted broker secret material keyed by broker
// name. Plaintext is never stored; KeyID identifies which encryption key
// sealed the ciphertext so rotations can be tracked.
type BrokerCredentials struct {
	Broker     string
	Ciphertext []byte
	KeyID      string
	UpdatedAt  time.Time
}
