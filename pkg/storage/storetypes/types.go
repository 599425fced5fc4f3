// Package storetypes holds what the storage backends share with their callers.
package storetypes

import "errors"

// ErrObjectNotFound is returned when a key does not exist in a bucket.
var ErrObjectNotFound = errors.New("object not found")

// Credentials are explicit credentials for one store. Empty fields mean
// "use the backend's ambient provider chain".
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	// CredentialsFile is a service account JSON file, used by GCS only.
	CredentialsFile string
}

// Static reports whether an access/secret key pair was supplied.
func (c *Credentials) Static() bool {
	return c != nil && c.AccessKey != "" && c.SecretKey != ""
}
