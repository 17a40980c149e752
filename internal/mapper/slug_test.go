package mapper

import "testing"

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Approve Refund": "approve_refund",
		"step-1":         "step_1",
		"a->b":           "a_b",
		"__x__":          "x",
		"ÁB":             "b",
		"":               "x",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReferences(t *testing.T) {
	got := References("Hi {{name}}, order {{ .order.id }} for {{name}} {{ 1bad }}")
	want := []string{"name", "order"}
	if len(got) != len(want) {
		t.Fatalf("References = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("References[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
