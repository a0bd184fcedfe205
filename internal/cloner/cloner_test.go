package cloner

import (
	"strings"
	"testing"
	"time"

	"github.com/zaneops/compose-core/internal/domain"
)

func TestReorderYAML_NilContent(t *testing.T) {
	out, err := reorderYAML(nil)
	if err != nil {
		t.Fatalf("reorderYAML(nil) error: %v", err)
	}
	if out != nil {
		t.Fatalf("reorderYAML(nil) = %v, want nil", out)
	}
}

func TestReorderYAML_PreservesKeyOrder(t *testing.T) {
	src := "zebra: 1\napple: 2\nmango: 3\n"
	out, err := reorderYAML(&src)
	if err != nil {
		t.Fatalf("reorderYAML() error: %v", err)
	}
	zi := strings.Index(*out, "zebra")
	ai := strings.Index(*out, "apple")
	mi := strings.Index(*out, "mango")
	if !(zi < ai && ai < mi) {
		t.Errorf("reorderYAML() did not preserve declaration order: %q", *out)
	}
}

func TestReorderYAML_RejectsInvalidYAML(t *testing.T) {
	src := "not: [valid"
	if _, err := reorderYAML(&src); err == nil {
		t.Error("reorderYAML() with malformed YAML: want error, got nil")
	}
}

func TestPreviewCommentBody(t *testing.T) {
	env := &domain.Environment{
		Name: "pr-42",
		PreviewMetadata: &domain.PreviewEnvMetadata{
			Branch: "feature/x",
		},
	}
	body := previewCommentBody(env)
	if !strings.Contains(body, "pr-42") || !strings.Contains(body, "feature/x") {
		t.Errorf("previewCommentBody() = %q, missing env name or branch", body)
	}
}

func TestPreviewCommentBody_NoMetadata(t *testing.T) {
	if got := previewCommentBody(&domain.Environment{}); got != "" {
		t.Errorf("previewCommentBody() with no metadata = %q, want empty", got)
	}
}

func TestPreviewRequestTTL(t *testing.T) {
	ttl := 48 * time.Hour
	req := PreviewRequest{TTL: &ttl}
	if req.TTL == nil || *req.TTL != ttl {
		t.Errorf("PreviewRequest.TTL = %v, want %v", req.TTL, ttl)
	}
}
