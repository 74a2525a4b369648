// Package codec persists an Analysis with encoding/gob: a header naming
// whether name-hashing is in force, exactly thirteen named relation
// sections, then the APIs/stamps/sourceInfos/compilations tail. A file
// whose relation count differs from 13 is rejected with errs.FormatError,
// which callers treat as "no previous Analysis".
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/errs"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/relation"
	"github.com/stackb/incrc/pkg/stamp"
)

// relationCount is the number of named relation sections the persisted
// format carries, including the four always-empty legacy slots older
// readers expect to find.
const relationCount = 13

// wireRelations is the flat, gob-friendly shape of the thirteen relations,
// in persisted order.
type wireRelations struct {
	SrcProd                []relation.Pair[ids.SourceID, ids.ProductID]
	LibraryDep             []relation.Pair[ids.SourceID, ids.LibraryID]
	LegacyDirectSourceDep  []relation.Pair[ids.SourceID, ids.SourceID]
	LegacyDirectExternal   []relation.Pair[ids.SourceID, ids.BinaryClassName]
	LegacyPublicInherited1 []relation.Pair[ids.ClassName, ids.ClassName]
	LegacyPublicInherited2 []relation.Pair[ids.ClassName, ids.ClassName]
	MemberRefInternal      []relation.Pair[ids.ClassName, ids.ClassName]
	MemberRefExternal      []relation.Pair[ids.ClassName, ids.ClassName]
	InheritanceInternal    []relation.Pair[ids.ClassName, ids.ClassName]
	InheritanceExternal    []relation.Pair[ids.ClassName, ids.ClassName]
	ClassNames             []relation.Pair[ids.ClassName, ids.BinaryClassName]
	UsedNames              []relation.Pair[ids.ClassName, analysis.UsedName]
	DeclaredClasses        []relation.Pair[ids.SourceID, ids.ClassName]
}

type wireFile struct {
	NameHashing   bool
	RelationCount int
	Relations     wireRelations
	Internal      map[ids.ClassName]apimodel.AnalyzedClass
	External      map[ids.ClassName]apimodel.AnalyzedClass
	SourceStamps  map[ids.SourceID]stamp.Stamp
	ProductStamps map[ids.ProductID]stamp.Stamp
	LibraryStamps map[ids.LibraryID]stamp.Stamp
	SourceInfos   map[ids.SourceID]analysis.SourceInfo
	Compilations  []analysis.Compilation
}

// Write serializes a to w. nameHashing records whether the name-hashing
// invalidation style (the one this whole engine implements) was in force.
func Write(w io.Writer, a *analysis.Analysis, nameHashing bool) error {
	file := buildWireFile(a, nameHashing)
	return gob.NewEncoder(w).Encode(&file)
}

func buildWireFile(a *analysis.Analysis, nameHashing bool) wireFile {
	return wireFile{
		NameHashing:   nameHashing,
		RelationCount: relationCount,
		Relations: wireRelations{
			SrcProd:             a.Relations.SrcProd.All(),
			LibraryDep:          a.Relations.LibraryDep.All(),
			MemberRefInternal:   a.Relations.MemberRefInternal.All(),
			MemberRefExternal:   a.Relations.MemberRefExternal.All(),
			InheritanceInternal: a.Relations.InheritanceInternal.All(),
			InheritanceExternal: a.Relations.InheritanceExternal.All(),
			ClassNames:          a.Relations.ProductClassName.All(),
			UsedNames:           a.Relations.UsedNames.All(),
			DeclaredClasses:     a.Relations.DeclaredClasses.All(),
		},
		Internal:      a.APIs.Internal,
		External:      a.APIs.External,
		SourceStamps:  a.Stamps.Source,
		ProductStamps: a.Stamps.Product,
		LibraryStamps: a.Stamps.Library,
		SourceInfos:   a.SourceInfos,
		Compilations:  a.Compilations,
	}
}

// Read deserializes an Analysis from r. It returns errs.FormatError if the
// file's relation count is not exactly 13.
func Read(r io.Reader) (*analysis.Analysis, bool /* nameHashing */, error) {
	var file wireFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return nil, false, errs.FormatError{Reason: fmt.Sprintf("decode analysis: %v", err)}
	}
	if file.RelationCount != relationCount {
		return nil, false, errs.FormatError{
			Reason: fmt.Sprintf("expected %d relations, found %d", relationCount, file.RelationCount),
		}
	}

	a := analysis.Empty()
	a.Relations.SrcProd = fromPairs(a.Relations.SrcProd, file.Relations.SrcProd)
	a.Relations.LibraryDep = fromPairs(a.Relations.LibraryDep, file.Relations.LibraryDep)
	a.Relations.MemberRefInternal = fromPairs(a.Relations.MemberRefInternal, file.Relations.MemberRefInternal)
	a.Relations.MemberRefExternal = fromPairs(a.Relations.MemberRefExternal, file.Relations.MemberRefExternal)
	a.Relations.InheritanceInternal = fromPairs(a.Relations.InheritanceInternal, file.Relations.InheritanceInternal)
	a.Relations.InheritanceExternal = fromPairs(a.Relations.InheritanceExternal, file.Relations.InheritanceExternal)
	a.Relations.ProductClassName = fromPairs(a.Relations.ProductClassName, file.Relations.ClassNames)
	a.Relations.UsedNames = fromPairs(a.Relations.UsedNames, file.Relations.UsedNames)
	a.Relations.DeclaredClasses = fromPairs(a.Relations.DeclaredClasses, file.Relations.DeclaredClasses)
	a.Relations.Classes = a.Relations.DeclaredClasses

	a.APIs.Internal = file.Internal
	a.APIs.External = file.External
	a.Stamps.Source = file.SourceStamps
	a.Stamps.Product = file.ProductStamps
	a.Stamps.Library = file.LibraryStamps
	a.SourceInfos = file.SourceInfos
	a.Compilations = file.Compilations

	return a, file.NameHashing, nil
}

func fromPairs[K comparable, V comparable](r *relation.Relation[K, V], pairs []relation.Pair[K, V]) *relation.Relation[K, V] {
	for _, p := range pairs {
		r = r.Add(p.Key, p.Value)
	}
	return r
}

// Marshal and Unmarshal are convenience wrappers over Write/Read for
// callers that want a []byte rather than a stream.
func Marshal(a *analysis.Analysis, nameHashing bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, a, nameHashing); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte) (*analysis.Analysis, bool, error) {
	return Read(bytes.NewReader(data))
}
