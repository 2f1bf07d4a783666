// internal/types/interfaces.go
package types

import (
	"context"
)

type SessionStore interface {
	ResolveOrCreate(ctx context.Context, key SessionKey) (SessionID, error)
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, session *SessionIndex) error
	RecordMessage(ctx context.Context, key SessionKey, id MessageID, status string) error
	Delete(ctx context.Context, key SessionKey) error
}

type CaptureStore interface {
	Append(ctx context.Context, event *CapturedEvent) error
	Load(ctx context.Context, id MessageID) ([]*CapturedEvent, error)
	Count(ctx context.Context, id MessageID) (int64, error)
	List(ctx context.Context) ([]MessageID, error)
}
