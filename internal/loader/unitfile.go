package loader

import (
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclUnitFile is the top-level structure of a unit file for decoding.
//
// A unit file pulls in sub-files via the `require` attribute and declares
// named symbols via `define` blocks:
//
//	require = ["lib/base.hcl"]
//
//	define "User" {
//	  kind    = "model"
//	  extends = "Model"
//	  attrs   = { table = "users" }
//	}
type hclUnitFile struct {
	Requires []string     `hcl:"require,optional"`
	Defines  []*hclDefine `hcl:"define,block"`
}

// hclDefine is a single `define` block.
type hclDefine struct {
	Name    string    `hcl:"name,label"`
	Kind    string    `hcl:"kind"`
	Extends string    `hcl:"extends,optional"`
	Uses    []string  `hcl:"uses,optional"`
	Attrs   cty.Value `hcl:"attrs,optional"`
}

// parseUnitFile parses and decodes one unit file. Any parse or decode
// diagnostic is reported as a *SyntaxError.
func parseUnitFile(parser *hclparse.Parser, path string) (*hclUnitFile, error) {
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, &SyntaxError{Path: path, Diags: diags}
	}

	var parsed hclUnitFile
	diags = gohcl.DecodeBody(hclFile.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, &SyntaxError{Path: path, Diags: diags}
	}
	return &parsed, nil
}

// references returns every symbol name the define block depends on.
func (d *hclDefine) references() []string {
	var refs []string
	if d.Extends != "" {
		refs = append(refs, d.Extends)
	}
	refs = append(refs, d.Uses...)
	return refs
}
