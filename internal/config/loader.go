package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// LoadFile reads and decodes an HCL config file. Defaults are applied;
// the result is not validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data, path)
}

// Load decodes HCL bytes. filename is only used in diagnostics.
func Load(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	version, err := probeVersion(file.Body)
	if err != nil {
		return nil, err
	}
	if !IsSupportedVersion(version) {
		return nil, fmt.Errorf("unsupported config schema version %s (supported: %v)", version, SupportedVersions)
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, evalContext(os.Environ()), &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config: %s", diags.Error())
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// probeVersion reads schema_version without decoding the rest, so a future
// schema fails with a version error rather than a pile of unknown blocks.
func probeVersion(body hcl.Body) (SchemaVersion, error) {
	content, _, diags := body.PartialContent(&hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{{Name: "schema_version"}},
	})
	if diags.HasErrors() {
		return SchemaVersion{}, fmt.Errorf("HCL parse error: %s", diags.Error())
	}
	attr, ok := content.Attributes["schema_version"]
	if !ok {
		return ParseVersion("")
	}
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() || val.Type() != cty.String || val.IsNull() {
		return SchemaVersion{}, fmt.Errorf("schema_version must be a string literal")
	}
	v, err := ParseVersion(val.AsString())
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid schema version: %w", err)
	}
	return v, nil
}

// evalContext exposes the environment to expressions as env.NAME.
func evalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}
