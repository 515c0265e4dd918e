package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Rotate.VerifyRefresh != nil && s.deps.Authorize.VerifyAccess != nil
}

func (s Service) Issue(ctx context.Context, req IssueRequest) IssueResult {
	return RunIssue(ctx, req, s.deps.Issue)
}

func (s Service) Rotate(ctx context.Context, req RotateRequest) RotateResult {
	return RunRotate(ctx, req, s.deps.Rotate)
}

func (s Service) Logout(ctx context.Context, req LogoutRequest) LogoutResult {
	return RunLogout(ctx, req, s.deps.Logout)
}

func (s Service) Authorize(ctx context.Context, token string, required []string) AuthorizeResult {
	return RunAuthorize(ctx, token, required, s.deps.Authorize)
}
