package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bidlink/marketplace-core/internal/session"
)

// API is the authenticated request pipeline the services call through.
// *session.Manager implements it.
type API interface {
	Execute(ctx context.Context, req *session.Request) (*session.Response, error)
	DoJSON(ctx context.Context, req *session.Request, out any) error
}

func contactPath(id string, rest ...string) string {
	p := "/contacts/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// BuildConfirmKey names the guard entry protecting contact creation for a project.
func BuildConfirmKey(projectID string) string {
	return fmt.Sprintf("confirm-contact:%s", projectID)
}
