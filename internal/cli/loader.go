package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	_ "embed"

	"github.com/dynabo/dynabo/internal/meta"
)

//go:embed definition.cue
var definitionSchema string

// DocumentError is one validation finding against a definition document.
type DocumentError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// LoadDocument reads one YAML or JSON definition document, checks it
// against the embedded schema and decodes it into a BO definition.
func LoadDocument(path string) (*meta.BODefinition, []DocumentError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []DocumentError{{File: path, Message: err.Error()}}
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []DocumentError{{
			File:    path,
			Message: fmt.Sprintf("parse: %v", err),
		}}
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, []DocumentError{{
			File:    path,
			Message: fmt.Sprintf("encode: %v", err),
		}}
	}

	if errs := checkSchema(path, encoded); len(errs) > 0 {
		return nil, errs
	}

	var def meta.BODefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, []DocumentError{{
			File:    path,
			Message: fmt.Sprintf("decode: %v", err),
		}}
	}
	if err := meta.ValidateDefinition(&def); err != nil {
		return nil, []DocumentError{{File: path, Message: err.Error()}}
	}
	return &def, nil
}

// checkSchema unifies the JSON-encoded document with the #Definition
// schema and reports every concrete violation.
func checkSchema(path string, encoded []byte) []DocumentError {
	ctx := cuecontext.New()

	schema := ctx.CompileString(definitionSchema)
	if err := schema.Err(); err != nil {
		return []DocumentError{{
			File:    path,
			Message: fmt.Sprintf("schema: %v", err),
		}}
	}
	defSchema := schema.LookupPath(cue.ParsePath("#Definition"))

	docVal := ctx.CompileBytes(encoded)
	if err := docVal.Err(); err != nil {
		return []DocumentError{{
			File:    path,
			Message: fmt.Sprintf("document: %v", err),
		}}
	}

	unified := defSchema.Unify(docVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var out []DocumentError
		for _, e := range errors.Errors(err) {
			out = append(out, DocumentError{File: path, Message: e.Error()})
		}
		return out
	}
	return nil
}

// LoadDocuments loads every .yaml, .yml and .json definition document
// under dir, in lexical order.
func LoadDocuments(dir string) ([]*meta.BODefinition, []DocumentError) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []DocumentError{{File: dir, Message: err.Error()}}
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, []DocumentError{{
			File:    dir,
			Message: "no definition documents found",
		}}
	}

	var defs []*meta.BODefinition
	var all []DocumentError
	for _, p := range paths {
		def, errs := LoadDocument(p)
		if len(errs) > 0 {
			all = append(all, errs...)
			continue
		}
		defs = append(defs, def)
	}
	return defs, all
}
