package codec_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/analysis/codec"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/errs"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/stamp"
)

func fixtureAnalysis() *analysis.Analysis {
	a := analysis.Empty()
	a = a.AddSource(
		"a.x",
		[]apimodel.AnalyzedClass{{Name: "p.A", APIHash: 11, PerNameHashes: []apimodel.PerNameHash{{Name: "m", Hash: 3}}}},
		stamp.Stamp("v1"),
		analysis.SourceInfo{MainClass: "p.A"},
		[]analysis.NonLocalProduct{{Product: "out/A.class", Class: "p.A", Binary: "p.A"}},
		nil,
		nil,
		[]analysis.Dependency{{From: "p.A", On: "ext.Dep", Context: analysis.Inheritance}},
		map[ids.LibraryID]stamp.Stamp{"lib.jar": "l1"},
		map[ids.ClassName][]analysis.UsedName{"p.A": {{Name: "n", Scope: apimodel.Default}}},
	)
	a.APIs.External["ext.Dep"] = apimodel.AnalyzedClass{Name: "ext.Dep", APIHash: 9}
	return a
}

func TestRoundTrip(t *testing.T) {
	a := fixtureAnalysis()

	data, err := codec.Marshal(a, true)
	if err != nil {
		t.Fatal(err)
	}
	got, nameHashing, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if !nameHashing {
		t.Errorf("expected nameHashing header preserved")
	}

	if !got.Relations.SrcProd.Equal(a.Relations.SrcProd) {
		t.Errorf("srcProd lost in round trip")
	}
	if !got.Relations.MemberRefExternal.Equal(a.Relations.MemberRefExternal) {
		t.Errorf("memberRefExternal lost in round trip")
	}
	if !got.Relations.InheritanceExternal.Equal(a.Relations.InheritanceExternal) {
		t.Errorf("inheritanceExternal lost in round trip")
	}
	if !got.Relations.UsedNames.Equal(a.Relations.UsedNames) {
		t.Errorf("usedNames lost in round trip")
	}
	if !got.Relations.DeclaredClasses.Equal(a.Relations.DeclaredClasses) {
		t.Errorf("declaredClasses lost in round trip")
	}
	if diff := cmp.Diff(a.APIs.Internal, got.APIs.Internal); diff != "" {
		t.Errorf("internal APIs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(a.APIs.External, got.APIs.External); diff != "" {
		t.Errorf("external APIs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(a.Stamps.Library, got.Stamps.Library); diff != "" {
		t.Errorf("library stamps (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(a.SourceInfos, got.SourceInfos); diff != "" {
		t.Errorf("source infos (-want +got):\n%s", diff)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	_, _, err := codec.Read(bytes.NewReader([]byte("not an analysis file")))
	var ferr errs.FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %v, want FormatError", err)
	}
}

func TestReadRejectsWrongRelationCount(t *testing.T) {
	// A file claiming a different relation count is refused even when the
	// rest of the payload decodes.
	data, err := codec.MarshalWithRelationCount(fixtureAnalysis(), true, 12)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = codec.Unmarshal(data)
	var ferr errs.FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %v, want FormatError", err)
	}
}
