package store

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// generateID produces prefix + 6 lowercase hex chars, retrying on
// collision (checked via exists) up to 100 times, matching spec §4.7's
// id-generation contract. The hex suffix is salted from a fresh uuid
// per attempt (the same id-collision-salt idiom the teacher uses for
// its own short ids), not a hash of caller-supplied content — nothing
// in the Task/Epic/Run inputs is guaranteed unique up front.
func generateID(ctx context.Context, prefix string, exists func(ctx context.Context, id string) (bool, error)) (string, error) {
	for attempt := 0; attempt < 100; attempt++ {
		suffix := randomHex6()
		id := prefix + suffix
		found, err := exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !found {
			return id, nil
		}
	}
	return "", fmt.Errorf("store: exhausted 100 attempts generating a unique %s-prefixed id", prefix)
}

func randomHex6() string {
	u := uuid.New()
	return hex.EncodeToString(u[:3])
}
