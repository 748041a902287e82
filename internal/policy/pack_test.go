package policy

import (
	"strings"
	"testing"
)

const packA = `
policies:
  - name: pack-a-block
    enabled: true
    severity: high
    priority: 10
    conditions:
      - type: risk_score
        operator: greater_than
        value: 0.9
    actions:
      - type: block
`

const packB = `
policies:
  - name: pack-b-warn
    enabled: true
    severity: low
    priority: 20
    conditions:
      - type: request_frequency
        operator: greater_than
        value: 10
    actions:
      - type: warn
`

func TestLoadDir_MergesEnabledPacks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-a.yaml", packA)
	writeFile(t, dir, "20-b.yml", packB)
	writeFile(t, dir, "_30-disabled.yaml", "this is: [not valid")
	writeFile(t, dir, "README.md", "ignored")

	policies, raw, infos, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(policies) != 2 || policies[0].Name != "pack-a-block" || policies[1].Name != "pack-b-warn" {
		t.Errorf("policies = %v", policies)
	}
	if len(infos) != 3 {
		t.Fatalf("infos = %+v", infos)
	}
	disabled := infos[2]
	if disabled.Enabled || disabled.Name != "30-disabled" || disabled.Error == "" {
		t.Errorf("disabled pack info = %+v", disabled)
	}
	if !strings.Contains(string(raw), "pack-b-warn") || strings.Contains(string(raw), "not valid") {
		t.Error("hash input should contain only enabled packs")
	}

	_, hash, err := LoadWithHash(dir)
	if err != nil {
		t.Fatalf("LoadWithHash(dir): %v", err)
	}
	if hash != HashBytes(raw) {
		t.Errorf("hash mismatch")
	}
}

func TestLoadDir_BrokenEnabledPackFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", packA)
	writeFile(t, dir, "b.yaml", "policies: [")

	if _, _, _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "b.yaml") {
		t.Errorf("err = %v, want failure naming b.yaml", err)
	}

	infos, err := ListPacks(dir)
	if err != nil {
		t.Fatalf("ListPacks: %v", err)
	}
	if len(infos) != 2 || infos[1].Error == "" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestLoadDir_DuplicateNamesAcrossPacks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", packA)
	writeFile(t, dir, "b.yaml", packA)

	if _, _, _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "duplicate name") {
		t.Errorf("err = %v, want duplicate name", err)
	}
}
