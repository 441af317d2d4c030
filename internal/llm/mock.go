package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"rejoin/internal/chat"
)

// MockClient provides deterministic offline replies with synthetic response
// ids, so session continuation works end to end without a service.
type MockClient struct {
	seq atomic.Int64
}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{
		ID:   fmt.Sprintf("mock_%d", c.seq.Add(1)),
		Text: text,
	}, nil
}

func buildMockReply(req Request) string {
	var lastUser string
	for i := len(req.Input) - 1; i >= 0; i-- {
		if req.Input[i].Role == chat.RoleUser {
			lastUser = strings.TrimSpace(req.Input[i].Content)
			break
		}
	}
	if lastUser == "" {
		return "I am listening."
	}

	reply := fmt.Sprintf("You said: %s", lastUser)
	if req.PreviousResponseID != "" {
		reply = fmt.Sprintf("%s (continuing from %s)", reply, req.PreviousResponseID)
	}
	return reply
}
