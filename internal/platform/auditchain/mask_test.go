package auditchain

import (
	"reflect"
	"testing"
)

func TestMaskSensitiveKeys(t *testing.T) {
	m := NewMasker()
	in := map[string]any{
		"password":      "hunter2",
		"user_password": "hunter2",
		"PASSWORD":      "hunter2",
		"api_key":       "sk-123",
		"apikey":        "sk-456",
		"Authorization": "Bearer abc",
		"patient_ssn":   "900101-1234567",
		"resident_no":   "900101-1234567",
		"note":          "fell near bed 3",
		"count":         3,
	}
	out := m.Mask(in)

	for _, k := range []string{"password", "user_password", "PASSWORD", "api_key", "apikey", "Authorization", "patient_ssn", "resident_no"} {
		if out[k] != Redacted {
			t.Errorf("key %q not redacted: %v", k, out[k])
		}
	}
	if out["note"] != "fell near bed 3" || out["count"] != 3 {
		t.Error("non-sensitive values must pass through unchanged")
	}
}

func TestMaskNested(t *testing.T) {
	m := NewMasker()
	in := map[string]any{
		"request": map[string]any{
			"headers": map[string]any{"X-Api-Token": "tok"},
			"body":    "ok",
		},
		"attempts": []any{
			map[string]any{"secret": "s1", "at": "09:00"},
			"plain",
		},
	}
	out := m.Mask(in)

	req := out["request"].(map[string]any)
	if req["headers"].(map[string]any)["X-Api-Token"] != Redacted {
		t.Error("nested map key not redacted")
	}
	if req["body"] != "ok" {
		t.Error("nested clean value changed")
	}
	first := out["attempts"].([]any)[0].(map[string]any)
	if first["secret"] != Redacted || first["at"] != "09:00" {
		t.Errorf("map inside slice not masked correctly: %v", first)
	}
}

func TestMaskDoesNotMutateInput(t *testing.T) {
	m := NewMasker()
	inner := map[string]any{"token": "abc"}
	in := map[string]any{"auth": inner}

	_ = m.Mask(in)

	if inner["token"] != "abc" {
		t.Error("input map was mutated")
	}
}

func TestMaskIdempotent(t *testing.T) {
	m := NewMasker()
	in := map[string]any{"password": "x", "nested": map[string]any{"ssn": "y", "ok": 1}}
	once := m.Mask(in)
	twice := m.Mask(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("masking must be idempotent: %v vs %v", once, twice)
	}
}

func TestMaskNil(t *testing.T) {
	if NewMasker().Mask(nil) != nil {
		t.Error("nil detail must stay nil")
	}
}

func TestMaskerExtraKeys(t *testing.T) {
	m := NewMasker("diagnosis", " ROOM_no ")
	out := m.Mask(map[string]any{"diagnosis_code": "S72.0", "room_no": "301", "ward": "A"})
	if out["diagnosis_code"] != Redacted || out["room_no"] != Redacted {
		t.Errorf("extra keys not applied: %v", out)
	}
	if out["ward"] != "A" {
		t.Error("unrelated key redacted")
	}
}
