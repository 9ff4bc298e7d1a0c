package embeddings

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestSentenceEmbedderDefaults(t *testing.T) {
	e := NewSentenceEmbedder("")

	if e.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want %q", e.ModelID(), DefaultModel)
	}
	if e.DefaultModelName() != DefaultModel {
		t.Errorf("DefaultModelName() = %q, want %q", e.DefaultModelName(), DefaultModel)
	}
	if e.State() != StateUnloaded {
		t.Errorf("State() = %v, want unloaded", e.State())
	}
	if e.Loaded() {
		t.Error("Loaded() = true before Load")
	}
	if e.Dimensions() != 0 {
		t.Errorf("Dimensions() = %d before Load, want 0", e.Dimensions())
	}
}

func TestSentenceEmbedderNotLoaded(t *testing.T) {
	e, opener := newTestEmbedder(t, 8)
	ctx := context.Background()

	inputs := [][]string{nil, {}, {"a"}, {"a", "b", "c"}}
	for _, in := range inputs {
		if _, err := e.Embed(ctx, in); !errors.Is(err, ErrNotLoaded) {
			t.Errorf("Embed(%q) error = %v, want ErrNotLoaded", in, err)
		}
		if _, err := e.BatchEmbed(ctx, in, 2); !errors.Is(err, ErrNotLoaded) {
			t.Errorf("BatchEmbed(%q) error = %v, want ErrNotLoaded", in, err)
		}
	}

	if _, err := e.Save(filepath.Join(t.TempDir(), "out")); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Save() error = %v, want ErrNotLoaded", err)
	}
	if _, err := EmbedText(ctx, e, "a"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("EmbedText() error = %v, want ErrNotLoaded", err)
	}
	if opener.opened != 0 {
		t.Errorf("runtime opened %d times without Load", opener.opened)
	}
}

func TestSentenceEmbedderEmbed(t *testing.T) {
	e, _ := loadTestEmbedder(t, 16)
	ctx := context.Background()

	if !e.Loaded() {
		t.Fatal("Loaded() = false after Load")
	}
	if e.Dimensions() != 16 {
		t.Fatalf("Dimensions() = %d, want 16", e.Dimensions())
	}

	one, err := e.Embed(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(one) != 1 || len(one[0]) != 16 {
		t.Fatalf("Embed([a]) shape = %d x %d, want 1 x 16", len(one), len(one[0]))
	}

	two, err := e.Embed(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(two) != 2 {
		t.Fatalf("Embed([a b]) returned %d vectors, want 2", len(two))
	}
	for i, v := range two {
		if len(v) != 16 {
			t.Errorf("vector %d has %d dimensions, want 16", i, len(v))
		}
	}
	if !vectorsClose(one[0], two[0]) {
		t.Error("embedding of \"a\" differs between calls")
	}

	empty, err := e.Embed(ctx, []string{})
	if err != nil {
		t.Fatalf("Embed(empty) error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Embed(empty) returned %d vectors", len(empty))
	}
}

func TestSentenceEmbedderUnitLength(t *testing.T) {
	e, _ := loadTestEmbedder(t, 32)

	vecs, err := e.Embed(context.Background(), []string{"hello", "Hallo Welt", "", "ümlaut ✓"})
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	for i, v := range vecs {
		if n := Norm(v); math.Abs(float64(n)-1) > 1e-5 {
			t.Errorf("vector %d norm = %f, want 1", i, n)
		}
	}
}

func TestSentenceEmbedderWithoutNormalize(t *testing.T) {
	e, _ := loadTestEmbedder(t, 32, WithNormalize(false))

	vecs, err := e.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	want := fakeVector("hello", 32, 7)
	if !vectorsClose(vecs[0], want) {
		t.Error("raw vector was modified with normalisation off")
	}
}

func TestSentenceEmbedderReturnsCopies(t *testing.T) {
	e, _ := loadTestEmbedder(t, 4, WithNormalize(false))
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	first[0][0] = 999

	second, err := e.Embed(ctx, []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if second[0][0] == 999 {
		t.Error("Embed() returned a slice shared with a previous call")
	}
}

func TestSentenceEmbedderLoadIdempotent(t *testing.T) {
	e, opener := loadTestEmbedder(t, 8)

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("second Load() error: %v", err)
	}
	if opener.opened != 1 {
		t.Errorf("runtime opened %d times, want 1", opener.opened)
	}
}

func TestSentenceEmbedderClose(t *testing.T) {
	e, opener := loadTestEmbedder(t, 8)
	ctx := context.Background()

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !opener.last.closed {
		t.Error("runtime not closed")
	}
	if e.State() != StateClosed {
		t.Errorf("State() = %v, want closed", e.State())
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, err := e.Embed(ctx, []string{"a"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Embed() after Close error = %v, want ErrClosed", err)
	}
	if err := e.Load(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
	if _, err := e.Save(t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Errorf("Save() after Close error = %v, want ErrClosed", err)
	}
}

func TestSentenceEmbedderLoadErrors(t *testing.T) {
	t.Run("missing local model", func(t *testing.T) {
		e := NewSentenceEmbedder(filepath.Join(t.TempDir(), "missing"))
		e.open = (&fakeOpener{}).open
		if err := e.Load(context.Background()); err == nil {
			t.Fatal("expected error for missing model directory")
		}
		if e.Loaded() {
			t.Error("Loaded() = true after failed Load")
		}
	})

	t.Run("runtime failure keeps embedder unloaded", func(t *testing.T) {
		e, opener := newTestEmbedder(t, 8)
		opener.failOn = warmupText
		err := e.Load(context.Background())
		if !errors.Is(err, errUpstream) {
			t.Fatalf("Load() error = %v, want upstream error", err)
		}
		if e.State() != StateUnloaded {
			t.Errorf("State() = %v, want unloaded", e.State())
		}
		if !opener.last.closed {
			t.Error("runtime not closed after failed warmup")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		e, _ := newTestEmbedder(t, 8)
		e.resolve = func(ctx context.Context, _ string, _ resolveOptions) (string, error) {
			return "", ctx.Err()
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := e.Load(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Load() error = %v, want context.Canceled", err)
		}
	})
}

func TestSentenceEmbedderUpstreamErrorPassesThrough(t *testing.T) {
	e, opener := loadTestEmbedder(t, 8)
	opener.last.failOn = "boom"

	_, err := e.Embed(context.Background(), []string{"ok", "boom"})
	if !errors.Is(err, errUpstream) {
		t.Errorf("Embed() error = %v, want upstream error", err)
	}
}

func TestSentenceEmbedderShapeMismatch(t *testing.T) {
	e, opener := loadTestEmbedder(t, 8)
	opener.last.collapse = true

	_, err := e.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Embed() error = %v, want ErrShapeMismatch", err)
	}
}

func TestSentenceEmbedderBatchEmbed(t *testing.T) {
	e, _ := loadTestEmbedder(t, 12)
	ctx := context.Background()

	texts := []string{"one", "two", "three", "four", "five", "six", "seven"}
	full, err := e.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}

	for _, size := range []int{1, 2, 3, 6, 7, 8, 100, 0} {
		got, err := e.BatchEmbed(ctx, texts, size)
		if err != nil {
			t.Fatalf("BatchEmbed(size=%d) error: %v", size, err)
		}
		if len(got) != len(texts) {
			t.Fatalf("BatchEmbed(size=%d) returned %d vectors, want %d", size, len(got), len(texts))
		}
		for i := range got {
			if !vectorsClose(got[i], full[i]) {
				t.Errorf("BatchEmbed(size=%d)[%d] differs from Embed", size, i)
			}
		}
	}
}

func TestSentenceEmbedderBatchChunking(t *testing.T) {
	e, opener := loadTestEmbedder(t, 4)
	rt := opener.last
	rt.calls = nil

	var progress []int
	texts := []string{"a", "b", "c", "d", "e"}
	_, err := e.BatchEmbedWithProgress(context.Background(), texts, 2, func(done, total int) {
		if total != len(texts) {
			t.Errorf("progress total = %d, want %d", total, len(texts))
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("BatchEmbedWithProgress() error: %v", err)
	}

	wantSizes := []int{2, 2, 1}
	if len(rt.calls) != len(wantSizes) {
		t.Fatalf("runtime called %d times, want %d", len(rt.calls), len(wantSizes))
	}
	for i, call := range rt.calls {
		if len(call) != wantSizes[i] {
			t.Errorf("call %d had %d texts, want %d", i, len(call), wantSizes[i])
		}
	}
	wantProgress := []int{2, 4, 5}
	for i := range wantProgress {
		if progress[i] != wantProgress[i] {
			t.Errorf("progress[%d] = %d, want %d", i, progress[i], wantProgress[i])
		}
	}
}

func TestSentenceEmbedderSaveRoundTrip(t *testing.T) {
	e, _ := loadTestEmbedder(t, 8)
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), "deep", "nested", "model")
	saved, err := e.Save(target)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if saved != target {
		t.Errorf("Save() path = %q, want %q", saved, target)
	}
	if !hasModelFiles(target) {
		t.Fatal("saved directory is missing model files")
	}

	reloaded := NewSentenceEmbedder(target)
	reloaded.open = (&fakeOpener{}).open
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load(saved) error: %v", err)
	}
	defer reloaded.Close()

	texts := []string{"This is a test sentence in English.", "Dies ist ein Testsatz auf Deutsch."}
	want, err := e.Embed(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reloaded.Embed(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if !vectorsClose(got[i], want[i]) {
			t.Errorf("round-trip embedding %d differs", i)
		}
	}
}

func TestSentenceEmbedderSaveDefaultPath(t *testing.T) {
	t.Run("no path and no save dir", func(t *testing.T) {
		e, _ := loadTestEmbedder(t, 4)
		if _, err := e.Save(""); !errors.Is(err, ErrNoSavePath) {
			t.Errorf("Save(\"\") error = %v, want ErrNoSavePath", err)
		}
	})

	t.Run("falls back to configured save dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "saved")
		e, _ := loadTestEmbedder(t, 4, WithSaveDir(dir))
		got, err := e.Save("")
		if err != nil {
			t.Fatalf("Save(\"\") error: %v", err)
		}
		if got != dir {
			t.Errorf("Save(\"\") path = %q, want %q", got, dir)
		}
		if !hasModelFiles(dir) {
			t.Error("save dir is missing model files")
		}
	})
}

func TestSentenceEmbedderImplementsEmbedder(t *testing.T) {
	var _ Embedder = (*SentenceEmbedder)(nil)
	var _ Embedder = (*OllamaEmbedder)(nil)
}

func vectorsClose(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-6 {
			return false
		}
	}
	return true
}
