package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPendingIndex tracks which approval requests await each approver in
// Redis sets (key: apq:{approverID}), so multiple host processes can fan out
// "what awaits my sign-off" without scanning a store.
type RedisPendingIndex struct {
	client *redis.Client
	keyFmt string
}

func NewRedisPendingIndex(client *redis.Client) *RedisPendingIndex {
	return &RedisPendingIndex{client: client, keyFmt: "apq:%s"}
}

func (r *RedisPendingIndex) key(approverID string) string {
	return fmt.Sprintf(r.keyFmt, approverID)
}

// Add marks requestID as pending for every listed approver.
func (r *RedisPendingIndex) Add(ctx context.Context, requestID string, approverIDs []string) error {
	for _, id := range approverIDs {
		if err := r.client.SAdd(ctx, r.key(id), requestID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Remove clears requestID from every listed approver's pending set. Call on
// any terminal transition.
func (r *RedisPendingIndex) Remove(ctx context.Context, requestID string, approverIDs []string) error {
	for _, id := range approverIDs {
		if err := r.client.SRem(ctx, r.key(id), requestID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Pending lists the request ids awaiting the approver.
func (r *RedisPendingIndex) Pending(ctx context.Context, approverID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(approverID)).Result()
}
