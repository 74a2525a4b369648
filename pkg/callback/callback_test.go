package callback_test

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/callback"
	"github.com/stackb/incrc/pkg/errs"
	"github.com/stackb/incrc/pkg/ids"
)

func TestGetOnceSecondCallIsContractViolation(t *testing.T) {
	cb := callback.New()
	if _, err := cb.GetOnce(nil); err != nil {
		t.Fatalf("first GetOnce: %v", err)
	}
	_, err := cb.GetOnce(nil)
	var cv errs.ContractViolation
	if !errors.As(err, &cv) {
		t.Fatalf("second GetOnce error = %v, want ContractViolation", err)
	}
}

func TestGetOnceClassifiesDependencies(t *testing.T) {
	cb := callback.New()
	cb.StartSource("b.x")
	cb.GeneratedNonLocalClass("b.x", "out/B.class", "p.B", "p.B")
	// p.A was compiled in an earlier round; ext.Lib was never compiled here.
	cb.ClassDependency("p.A", "p.B", analysis.MemberRef)
	cb.BinaryDependency("ext.Lib", "p.B", "b.x", analysis.Inheritance)

	a, err := cb.GetOnce(map[ids.ClassName]ids.SourceID{"p.A": "a.x"})
	if err != nil {
		t.Fatal(err)
	}

	if !a.Relations.MemberRefInternal.Contains("p.B", "p.A") {
		t.Errorf("expected internal memberRef edge p.B -> p.A")
	}
	if !a.Relations.MemberRefExternal.Contains("p.B", "ext.Lib") {
		t.Errorf("expected external memberRef edge p.B -> ext.Lib")
	}
	if !a.Relations.InheritanceExternal.Contains("p.B", "ext.Lib") {
		t.Errorf("expected external inheritance edge p.B -> ext.Lib")
	}
}

func TestGetOnceSameRoundDependencyIsInternal(t *testing.T) {
	cb := callback.New()
	cb.StartSource("a.x")
	cb.StartSource("b.x")
	cb.GeneratedNonLocalClass("a.x", "out/A.class", "p.A", "p.A")
	cb.GeneratedNonLocalClass("b.x", "out/B.class", "p.B", "p.B")
	// Both classes were declared this round; no prior knowledge needed.
	cb.ClassDependency("p.A", "p.B", analysis.MemberRef)

	a, err := cb.GetOnce(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Relations.MemberRefInternal.Contains("p.B", "p.A") {
		t.Errorf("expected same-round dependency classified internal")
	}
}

func TestGetOncePairsCompanions(t *testing.T) {
	cb := callback.New()
	cb.StartSource("a.x")
	cb.GeneratedNonLocalClass("a.x", "out/A.class", "p.A", "p.A")
	cb.GeneratedNonLocalClass("a.x", "out/A$.class", "p.A$", "p.A$")
	cb.API("a.x", apimodel.ClassLike{Name: "p.A", Members: []apimodel.Member{{Name: "m", Signature: "()I"}}}, false)
	cb.API("a.x", apimodel.ClassLike{Name: "p.A$", Members: []apimodel.Member{{Name: "apply", Signature: "()A"}}}, false)

	a, err := cb.GetOnce(nil)
	if err != nil {
		t.Fatal(err)
	}

	class := a.APIs.Internal["p.A"]
	if diff := cmp.Diff([]ids.ClassName{"p.A$"}, class.Companions); diff != "" {
		t.Errorf("class companions (-want +got):\n%s", diff)
	}
	obj := a.APIs.Internal["p.A$"]
	if diff := cmp.Diff([]ids.ClassName{"p.A"}, obj.Companions); diff != "" {
		t.Errorf("object companions (-want +got):\n%s", diff)
	}

	// The class-like entry carries the merged per-name array: the object's
	// apply contributes alongside the class's m.
	var names []string
	for _, h := range class.PerNameHashes {
		names = append(names, h.Name)
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"apply", "m"}, names); diff != "" {
		t.Errorf("merged per-name hashes (-want +got):\n%s", diff)
	}
}

func TestConcurrentInsertsAreIdempotent(t *testing.T) {
	cb := callback.New()
	cb.StartSource("a.x")
	cb.GeneratedNonLocalClass("a.x", "out/A.class", "p.A", "p.A")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				on := ids.ClassName(fmt.Sprintf("dep.D%d", j%10))
				cb.ClassDependency(on, "p.A", analysis.MemberRef)
				cb.UsedName("p.A", fmt.Sprintf("n%d", j%10), []apimodel.UseScope{apimodel.Default})
			}
		}(i)
	}
	wg.Wait()

	a, err := cb.GetOnce(map[ids.ClassName]ids.SourceID{
		"dep.D0": "d.x", "dep.D1": "d.x", "dep.D2": "d.x", "dep.D3": "d.x", "dep.D4": "d.x",
		"dep.D5": "d.x", "dep.D6": "d.x", "dep.D7": "d.x", "dep.D8": "d.x", "dep.D9": "d.x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(a.Relations.MemberRefInternal.Forward("p.A")); got != 10 {
		t.Errorf("expected 10 distinct dependencies after concurrent duplicate inserts, got %d", got)
	}
	if got := len(a.Relations.UsedNames.Forward("p.A")); got != 10 {
		t.Errorf("expected 10 distinct used names, got %d", got)
	}
}

func TestMainClassAndProblemsLandInSourceInfo(t *testing.T) {
	cb := callback.New()
	cb.StartSource("a.x")
	cb.MainClass("a.x", "p.Main")
	cb.Problem("a.x", analysis.Problem{Category: "typer", Message: "oops", Severity: "warn"})

	a, err := cb.GetOnce(nil)
	if err != nil {
		t.Fatal(err)
	}
	info := a.SourceInfos["a.x"]
	if info.MainClass != "p.Main" {
		t.Errorf("MainClass = %q, want p.Main", info.MainClass)
	}
	if len(info.Problems) != 1 || info.Problems[0].Message != "oops" {
		t.Errorf("Problems = %v", info.Problems)
	}
}
