package debate

import (
	"context"

	"github.com/fyrsmithlabs/briefd/internal/router"
)

// RouterRoles backs role turns with the model router. Task IDs are
// "debate-<role>", so per-role tier and provider assignment happens in
// routing config rather than here.
type RouterRoles struct {
	Router *router.Router
}

// Call routes one role turn. Debate turns are never cacheable: each
// depends on the live transcript.
func (r *RouterRoles) Call(ctx context.Context, role, system, prompt string) (string, error) {
	temperature := 0.4
	if role == RoleJudge {
		temperature = 0.1
	}
	result, err := r.Router.Route(ctx, router.TaskSpec{
		TaskID:      "debate-" + role,
		System:      system,
		Prompt:      prompt,
		MaxTokens:   2048,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
