package canonhash

import "testing"

func TestSumObjectDeterministicForSameState(t *testing.T) {
	a := map[string]any{
		"b": 2,
		"a": map[string]any{"y": 2, "x": 1},
	}
	b := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": 2,
	}

	ha, _, err := SumObject(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	hb, _, err := SumObject(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected same hash, got %s vs %s", ha, hb)
	}
}

func TestSumObjectChangesWhenStateChanges(t *testing.T) {
	a := map[string]any{"a": 1}
	b := map[string]any{"a": 2}
	ha, _, _ := SumObject(a)
	hb, _, _ := SumObject(b)
	if ha == hb {
		t.Fatalf("expected different hashes")
	}
}

func TestChainSumDependsOnPrev(t *testing.T) {
	v := map[string]any{"seq": 1}
	h1, err := ChainSum("", v)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	h2, err := ChainSum(h1, v)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("chained hash must differ from genesis hash")
	}
	again, _ := ChainSum(h1, v)
	if again != h2 {
		t.Fatalf("chain sum must be deterministic, got %s vs %s", again, h2)
	}
}
