package core

import "context"

// Generator produces text from a generation request.
type Generator interface {
	// GenerateContent executes a single synchronous generation call
	GenerateContent(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}
