package cmd

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowmeta/internal/config"
)

func TestRunCheck_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.yaml", testPolicy+`
  - comment: bulk
    conditions:
      - ip_dst: 10.9.0.0/16
    actions:
      qos_treatment: scavenger
`)
	configPath := writeFile(t, dir, "valid.hcl", fmt.Sprintf(`
policy_file = %q
qos {
  queue "high_priority" { id = 1 }
}
identity "10.0.0.5" {
  hostname = "printer"
}
`, policyPath))

	var buf bytes.Buffer
	captureStdout(t, &buf)
	require.NoError(t, RunCheck(configPath, false))

	out := buf.String()
	assert.Contains(t, out, "Configuration valid!")
	assert.Contains(t, out, "Policy: 2 rules")
	assert.Contains(t, out, "Identities: 1")
	assert.Contains(t, out, `rule bulk sets qos_treatment "scavenger" but no queue serves it`)
	assert.NotContains(t, out, "high_priority\" but")
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	captureStdout(t, &buf)

	broken := writeFile(t, dir, "invalid.hcl", `
flow_table {
  max_age = "30s"
`)
	assert.Error(t, RunCheck(broken, false))

	badValue := writeFile(t, dir, "bad.hcl", `
capture { mode = "carrier-pigeon" }
`)
	assert.Error(t, RunCheck(badValue, false))

	assert.Error(t, RunCheck("", false))
}

func TestRunCheck_InvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.yaml", `
tc_rules:
  - comment: broken
    conditions:
      - ip_src: 10.0.0.9-10.0.0.1
    actions:
      qos_treatment: high_priority
`)
	configPath := writeFile(t, dir, "cfg.hcl", fmt.Sprintf("policy_file = %q\n", policyPath))

	var buf bytes.Buffer
	captureStdout(t, &buf)
	err := RunCheck(configPath, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy invalid")
}

func TestRunCheck_Print(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "cfg.hcl", `
flow_table { max_age = "45s" }
`)

	var buf bytes.Buffer
	captureStdout(t, &buf)
	require.NoError(t, RunCheck(configPath, true))

	out := buf.String()
	idx := bytes.Index(buf.Bytes(), []byte("schema_version"))
	require.GreaterOrEqual(t, idx, 0, out)

	cfg, err := config.Load(buf.Bytes()[idx:], "printed.hcl")
	require.NoError(t, err)
	assert.Equal(t, "45s", cfg.FlowTable.MaxAge)
}

func TestRunVersion(t *testing.T) {
	var buf bytes.Buffer
	captureStdout(t, &buf)
	RunVersion()
	assert.Contains(t, buf.String(), "flowmeta dev")
}
