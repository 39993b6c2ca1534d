package store

import (
	"testing"

	"gorm.io/datatypes"
)

func TestCoerceJSONLegacySentinel(t *testing.T) {
	cases := []string{
		`[object Object]`,
		`"[object Object]"`,
		``,
		`   `,
		`nicht mal json`,
	}
	for _, c := range cases {
		got := CoerceJSON(datatypes.JSON([]byte(c)))
		if string(got) != "{}" {
			t.Errorf("CoerceJSON(%q) = %q, want {}", c, string(got))
		}
	}
}

func TestCoerceJSONKeepsValidValues(t *testing.T) {
	for _, c := range []string{`{"a": 1}`, `[1, 2]`, `"text"`, `42`} {
		got := CoerceJSON(datatypes.JSON([]byte(c)))
		if string(got) != c {
			t.Errorf("CoerceJSON(%q) = %q, want unchanged", c, string(got))
		}
	}
}

func TestValidateJSONColumnRejectsSentinel(t *testing.T) {
	if err := ValidateJSONColumn([]byte(`"[object Object]"`)); err == nil {
		t.Error("sentinel must be rejected on write")
	}
	if err := ValidateJSONColumn([]byte(`{"note": "enthält [object Object] irgendwo"}`)); err == nil {
		t.Error("embedded sentinel must be rejected on write")
	}
	if err := ValidateJSONColumn([]byte(`nicht json`)); err == nil {
		t.Error("invalid JSON must be rejected on write")
	}
	if err := ValidateJSONColumn([]byte(`{"a": 1}`)); err != nil {
		t.Errorf("valid JSON rejected: %v", err)
	}
}

func TestMarshalUnmarshalColumn(t *testing.T) {
	raw, err := MarshalColumn(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("MarshalColumn: %v", err)
	}
	var out map[string]any
	if err := UnmarshalColumn(raw, &out); err != nil {
		t.Fatalf("UnmarshalColumn: %v", err)
	}
	if out["k"] != "v" {
		t.Errorf("round trip = %v", out)
	}
}

func TestUnmarshalColumnCoercesLegacyValue(t *testing.T) {
	var out map[string]any
	if err := UnmarshalColumn(datatypes.JSON([]byte(`[object Object]`)), &out); err != nil {
		t.Fatalf("UnmarshalColumn: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("coerced value = %v, want empty object", out)
	}
}
