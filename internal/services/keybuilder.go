package services

import (
	"strings"

	"github.com/presencekit/presenced/internal/models"
)

// DefaultGuard is used when neither the scope nor the resolver supplies one.
const DefaultGuard = "web"

// ScopeResolver supplies an ambient scope when the caller passes none. The
// returned mapping is filtered to the recognized keys; a nil or malformed
// result falls back to guard-only keying and is never fatal.
type ScopeResolver func() map[string]string

// KeyBuilder derives the storage key partitioning presence records by
// identity and scope. Identical inputs always yield identical keys, and
// distinct scopes for the same identity never collide: every scope
// dimension that is set contributes its own prefixed segment.
type KeyBuilder struct {
	resolver     ScopeResolver
	defaultGuard string
}

func NewKeyBuilder(resolver ScopeResolver, defaultGuard string) *KeyBuilder {
	if defaultGuard == "" {
		defaultGuard = DefaultGuard
	}
	return &KeyBuilder{resolver: resolver, defaultGuard: defaultGuard}
}

// BuildKey assembles and normalizes the storage key for identity+scope.
// Segment order is fixed: presence | tenant | loc:<l> | dom:<d> | guard:<g>
// | user:<id>. The guard segment is always present, defaulting to the
// configured guard when the resolved scope carries none.
func (b *KeyBuilder) BuildKey(identity models.Identity, scope *models.Scope) string {
	resolved := b.resolve(scope)

	guard := resolved.Guard
	if guard == "" {
		guard = b.defaultGuard
	}

	parts := []string{"presence"}
	if resolved.Tenant != "" {
		parts = append(parts, resolved.Tenant)
	}
	if resolved.Location != "" {
		parts = append(parts, "loc:"+resolved.Location)
	}
	if resolved.Domain != "" {
		parts = append(parts, "dom:"+resolved.Domain)
	}
	parts = append(parts, "guard:"+guard, "user:"+string(identity))

	return normalizeKey(strings.Join(parts, "|"))
}

// resolve applies the precedence: explicit scope, then resolver, then the
// guard-only fallback (represented by a zero Scope; the guard default is
// applied in BuildKey).
func (b *KeyBuilder) resolve(scope *models.Scope) models.Scope {
	if scope != nil {
		return *scope
	}
	if b.resolver != nil {
		return models.ScopeFromMap(b.resolver())
	}
	return models.Scope{}
}

// normalizeKey lowercases the joined segments and collapses every run of
// non-alphanumeric characters into a single underscore, producing a
// storage-safe canonical form. Leading and trailing separators are trimmed.
func normalizeKey(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	pendingSep := false
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pendingSep = false
			sb.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return sb.String()
}
