package depgraph

import (
	"encoding/json"
	stderrors "errors"
	"io/fs"

	"git.home.luguber.info/inful/chainloader/internal/archive"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// DescriptorName is the entry every chainloaded artifact carries at its root.
const DescriptorName = "component.json"

// Spec is one nested dependency reference. File names an entry inside the
// outer artifact (or an absolute path on disk). Provider and Builtin name a
// registered Provider that computes further specs. ID and Version describe
// a file that carries no descriptor of its own.
type Spec struct {
	File     string            `json:"file,omitempty"`
	Provider string            `json:"provider,omitempty"`
	Builtin  string            `json:"builtin,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
	ID       string            `json:"id,omitempty"`
	Version  string            `json:"version,omitempty"`
}

// Descriptor is the parsed component.json.
type Descriptor struct {
	SchemaRevision int    `json:"schemaRevision"`
	ID             string `json:"id"`
	Version        string `json:"version"`
	Name           string `json:"name,omitempty"`
	Jars           []Spec `json:"jars,omitempty"`
}

// readDescriptor returns nil without error when the artifact has no
// descriptor entry.
func readDescriptor(path string) (*Descriptor, error) {
	a, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	data, err := a.ReadFile(DescriptorName)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read descriptor").
			WithContext("path", path).Build()
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "malformed descriptor").
			WithContext("path", path).Build()
	}
	return &d, nil
}

// fromSpec synthesizes a descriptor for a file without one.
func fromSpec(s Spec) *Descriptor {
	if s.ID == "" || s.Version == "" {
		return nil
	}
	return &Descriptor{ID: s.ID, Version: s.Version}
}
