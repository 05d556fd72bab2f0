package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/presencekit/presenced/internal/models"
)

func TestBuildKey_GuardOnlyFallback(t *testing.T) {
	builder := NewKeyBuilder(nil, "web")

	key := builder.BuildKey("42", nil)

	assert.Equal(t, "presence_guard_web_user_42", key)
}

func TestBuildKey_FullScope(t *testing.T) {
	builder := NewKeyBuilder(nil, "web")

	key := builder.BuildKey("42", &models.Scope{
		Tenant:   "acme",
		Location: "us-east",
		Domain:   "app.example.com",
		Guard:    "api",
	})

	assert.Equal(t, "presence_acme_loc_us_east_dom_app_example_com_guard_api_user_42", key)
}

func TestBuildKey_ExplicitScopeBeatsResolver(t *testing.T) {
	builder := NewKeyBuilder(func() map[string]string {
		return map[string]string{"tenant": "resolved"}
	}, "web")

	key := builder.BuildKey("42", &models.Scope{Tenant: "explicit"})

	assert.Equal(t, "presence_explicit_guard_web_user_42", key)
}

func TestBuildKey_ResolverScope(t *testing.T) {
	builder := NewKeyBuilder(func() map[string]string {
		return map[string]string{"tenant": "acme", "guard": "api", "bogus": "ignored"}
	}, "web")

	key := builder.BuildKey("42", nil)

	assert.Equal(t, "presence_acme_guard_api_user_42", key)
}

func TestBuildKey_NilResolverResultFallsBackToGuard(t *testing.T) {
	builder := NewKeyBuilder(func() map[string]string { return nil }, "web")

	key := builder.BuildKey("42", nil)

	assert.Equal(t, "presence_guard_web_user_42", key)
}

func TestBuildKey_Deterministic(t *testing.T) {
	builder := NewKeyBuilder(nil, "web")
	scope := &models.Scope{Tenant: "acme"}

	assert.Equal(t, builder.BuildKey("42", scope), builder.BuildKey("42", scope))
}

func TestBuildKey_DistinctScopesNeverCollide(t *testing.T) {
	builder := NewKeyBuilder(nil, "web")

	seen := map[string]string{}
	scopes := []*models.Scope{
		nil,
		{Tenant: "acme"},
		{Tenant: "globex"},
		{Tenant: "acme", Location: "eu"},
		{Tenant: "acme", Domain: "eu"},
		{Guard: "api"},
	}
	for _, scope := range scopes {
		key := builder.BuildKey("42", scope)
		if prior, ok := seen[key]; ok {
			t.Fatalf("key %q collides with scope %s", key, prior)
		}
		seen[key] = fmt.Sprintf("%+v", scope)
	}
}

func TestBuildKey_NormalizesMixedCaseAndPunctuation(t *testing.T) {
	builder := NewKeyBuilder(nil, "web")

	key := builder.BuildKey("User-42", &models.Scope{Tenant: "ACME Corp."})

	assert.Equal(t, "presence_acme_corp_guard_web_user_user_42", key)
}
