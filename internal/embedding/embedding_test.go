package embedding

import (
	"context"
	"errors"
	"testing"

	xerrors "ExoLab-Agents/internal/errors"
)

type fakeEmbedder struct {
	model string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, model, input string) ([]float64, error) {
	f.model = model
	if f.err != nil {
		return nil, f.err
	}
	return []float64{float64(len(input)), 0.5}, nil
}

func TestVectorize(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc := NewService(embedder, WithDimensions(2))

	vec, err := svc.Vectorize(context.Background(), "Biology is cool!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || vec[0] != 16 || embedder.model != Model {
		t.Fatalf("unexpected vector %v model %s", vec, embedder.model)
	}
	if _, err := svc.Vectorize(context.Background(), ""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestVectorizeWrapsProviderErrors(t *testing.T) {
	svc := NewService(&fakeEmbedder{err: errors.New("dial tcp: refused")})
	_, err := svc.Vectorize(context.Background(), "x")
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}

func TestLiteralAndInnerProduct(t *testing.T) {
	if got := Literal([]float64{0.25, -1, 3}); got != "[0.25,-1,3]" {
		t.Fatalf("unexpected literal %q", got)
	}
	if got := Literal(nil); got != "[]" {
		t.Fatalf("unexpected empty literal %q", got)
	}
	if got := NegativeInnerProduct([]float64{1, 2}, []float64{3, 4}); got != -11 {
		t.Fatalf("unexpected product %v", got)
	}
}

func TestVectorizeRejectsUnexpectedDimensions(t *testing.T) {
	svc := NewService(&fakeEmbedder{})
	_, err := svc.Vectorize(context.Background(), "Biology is cool!")
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure for 2-dim vector, got %v", err)
	}
	if _, err := NewService(&fakeEmbedder{}, WithDimensions(0)).Vectorize(context.Background(), "x"); err != nil {
		t.Fatalf("unchecked dimensions should pass: %v", err)
	}
}
