package storage

import (
	"strings"
	"testing"
	"time"
)

func TestAssetKeyIsTenantScoped(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	key := assetKey(7, 42, "header.png", now)

	if !strings.HasPrefix(key, "accounts/7/articles/42/") {
		t.Errorf("key = %q, want accounts/7/articles/42/ prefix", key)
	}
	if !strings.HasSuffix(key, "-header.png") {
		t.Errorf("key = %q, want filename suffix", key)
	}
	if key == assetKey(8, 42, "header.png", now) {
		t.Error("keys of different tenants must not collide")
	}
}
