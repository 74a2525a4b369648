package apimodel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestAPIHashIgnoresOrderAndPrivates(t *testing.T) {
	for name, tc := range map[string]struct {
		a, b      ClassLike
		wantEqual bool
	}{
		"identical": {
			a:         ClassLike{Members: []Member{{Name: "x", Signature: "()I"}}},
			b:         ClassLike{Members: []Member{{Name: "x", Signature: "()I"}}},
			wantEqual: true,
		},
		"declaration order": {
			a: ClassLike{Members: []Member{
				{Name: "x", Signature: "()I"},
				{Name: "y", Signature: "()J"},
			}},
			b: ClassLike{Members: []Member{
				{Name: "y", Signature: "()J"},
				{Name: "x", Signature: "()I"},
			}},
			wantEqual: true,
		},
		"private internals differ": {
			a: ClassLike{Members: []Member{
				{Name: "x", Signature: "()I"},
				{Name: "impl", Signature: "()V", Private: true},
			}},
			b: ClassLike{Members: []Member{
				{Name: "x", Signature: "()I"},
				{Name: "implRenamed", Signature: "()V", Private: true},
			}},
			wantEqual: true,
		},
		"public signature differs": {
			a:         ClassLike{Members: []Member{{Name: "x", Signature: "()I"}}},
			b:         ClassLike{Members: []Member{{Name: "x", Signature: "()J"}}},
			wantEqual: false,
		},
	} {
		t.Run(name, func(t *testing.T) {
			if got := APIHash(tc.a) == APIHash(tc.b); got != tc.wantEqual {
				t.Errorf("APIHash equality = %v, want %v", got, tc.wantEqual)
			}
		})
	}
}

func TestExtraHashSeesPrivateRename(t *testing.T) {
	a := ClassLike{IsTrait: true, Members: []Member{
		{Name: "x", Signature: "()I"},
		{Name: "impl", Signature: "()V", Private: true},
	}}
	b := ClassLike{IsTrait: true, Members: []Member{
		{Name: "x", Signature: "()I"},
		{Name: "implRenamed", Signature: "()V", Private: true},
	}}
	assert.Equal(t, APIHash(a), APIHash(b), "public API should be unaffected")
	assert.NotEqual(t, ExtraHash(a), ExtraHash(b), "extra hash should see the private rename")
}

func TestPerNameHashesOnePerName(t *testing.T) {
	c := ClassLike{Members: []Member{
		{Name: "foo", Signature: "()I"},
		{Name: "foo", Signature: "(I)I"}, // overload contributes to the same name
		{Name: "bar", Signature: "()V"},
	}}
	got := PerNameHashes(c)
	names := make([]string, len(got))
	for i, h := range got {
		names[i] = h.Name
	}
	if diff := cmp.Diff([]string{"bar", "foo"}, names); diff != "" {
		t.Errorf("per-name hash names (-want +got):\n%s", diff)
	}
}

func TestPerNameHashesOverloadMatters(t *testing.T) {
	one := ClassLike{Members: []Member{{Name: "foo", Signature: "()I"}}}
	two := ClassLike{Members: []Member{
		{Name: "foo", Signature: "()I"},
		{Name: "foo", Signature: "(I)I"},
	}}
	assert.NotEqual(t, PerNameHashes(one)[0].Hash, PerNameHashes(two)[0].Hash)
}

func TestMergeCompanionHashesStable(t *testing.T) {
	classHashes := []PerNameHash{
		{Name: "apply", Scope: Default, Hash: 1},
		{Name: "shared", Scope: Default, Hash: 2},
	}
	objectHashes := []PerNameHash{
		{Name: "shared", Scope: Default, Hash: 3},
		{Name: "unapply", Scope: Default, Hash: 4},
	}

	got := MergeCompanionHashes(classHashes, objectHashes)
	// merging the reversed inputs pairs the same slots, so the result is
	// identical; swapping class and object sides is a different pairing.
	again := MergeCompanionHashes(
		[]PerNameHash{classHashes[1], classHashes[0]},
		[]PerNameHash{objectHashes[1], objectHashes[0]},
	)
	if diff := cmp.Diff(got, again); diff != "" {
		t.Errorf("merge not stable under input reordering (-first +second):\n%s", diff)
	}

	names := make([]string, len(got))
	for i, h := range got {
		names[i] = h.Name
	}
	if diff := cmp.Diff([]string{"apply", "shared", "unapply"}, names); diff != "" {
		t.Errorf("merged names (-want +got):\n%s", diff)
	}
}

func TestMinimize(t *testing.T) {
	c := ClassLike{
		Name: "a.B",
		Members: []Member{
			{Name: "x", Signature: "()I", Body: "return 1"},
			{Name: "impl", Signature: "()V", Private: true, Body: "..."},
		},
	}

	got := Minimize(c, false)
	if len(got.Members) != 1 {
		t.Fatalf("expected private member stripped, got %v", got.Members)
	}
	if got.Members[0].Body != "" {
		t.Errorf("expected body stripped, got %q", got.Members[0].Body)
	}

	trait := c
	trait.IsTrait = true
	got = Minimize(trait, false)
	if len(got.Members) != 2 {
		t.Fatalf("expected trait to keep private member structure, got %v", got.Members)
	}

	debug := Minimize(c, true)
	if diff := cmp.Diff(c, debug); diff != "" {
		t.Errorf("api-debug mode should strip nothing (-want +got):\n%s", diff)
	}
}
