package storage

import "context"

// SetOpener replaces the backend constructor used by Resolve.
func SetOpener(r *StoreResolver, fn func(ctx context.Context, storageType StorageType, bucket string, creds *Credentials) (Storage, error)) {
	r.opener = fn
}
