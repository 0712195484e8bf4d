package leads

import "github.com/google/uuid"

func newLeaseToken() string {
	return uuid.NewString()
}
