// Package session talks to the browser session backend that runs drive.
package session

import (
	"context"
	"errors"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

var (
	// ErrSessionNotFound means the backend no longer knows the session. Runs treat it as fatal.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRenderTimeout means the page did not render in time. Callers may retry.
	ErrRenderTimeout = errors.New("render timeout")
)

// Backend is a controllable, observable UI session provider.
type Backend interface {
	Start(ctx context.Context, url string) (string, error)
	Screenshot(ctx context.Context, sessionID string) ([]byte, error)
	// Click acknowledges a click. A click that hit nothing is still acknowledged.
	Click(ctx context.Context, sessionID string, x, y int) error
	ExtractContext(ctx context.Context, sessionID string) (*domain.SemanticContext, error)
	Close(ctx context.Context, sessionID string) error
}
