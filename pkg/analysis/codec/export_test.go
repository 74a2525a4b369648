package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/stackb/incrc/pkg/analysis"
)

// MarshalWithRelationCount writes a file claiming the given relation
// count, for exercising the reader's format check.
func MarshalWithRelationCount(a *analysis.Analysis, nameHashing bool, count int) ([]byte, error) {
	file := buildWireFile(a, nameHashing)
	file.RelationCount = count
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&file); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
