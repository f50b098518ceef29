package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/backend/internal/domain/integration"
)

func TestTransformer_Apply(t *testing.T) {
	tr := NewTransformer()

	t.Run("flat mapping", func(t *testing.T) {
		source := integration.EntityRecord{"FirstName": "Ada", "LastName": "Lovelace"}
		rules := []integration.FieldMapping{
			{SourceField: "FirstName", TargetField: "first_name"},
			{SourceField: "LastName", TargetField: "last_name"},
		}

		out, err := tr.Apply(source, rules)
		require.NoError(t, err)
		assert.Equal(t, "Ada", out["first_name"])
		assert.Equal(t, "Lovelace", out["last_name"])
	})

	t.Run("dotted source and target paths", func(t *testing.T) {
		source := integration.EntityRecord{
			"Owner": map[string]any{"Email": "ada@example.com"},
		}
		rules := []integration.FieldMapping{
			{SourceField: "Owner.Email", TargetField: "owner.email"},
		}

		out, err := tr.Apply(source, rules)
		require.NoError(t, err)
		owner, ok := out["owner"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ada@example.com", owner["email"])
	})

	t.Run("unmapped fields do not leak through", func(t *testing.T) {
		source := integration.EntityRecord{"Name": "Acme", "Internal": "secret"}
		rules := []integration.FieldMapping{{SourceField: "Name", TargetField: "name"}}

		out, err := tr.Apply(source, rules)
		require.NoError(t, err)
		assert.Equal(t, integration.EntityRecord{"name": "Acme"}, out)
	})

	t.Run("absent optional field is skipped", func(t *testing.T) {
		source := integration.EntityRecord{"Name": "Acme"}
		rules := []integration.FieldMapping{
			{SourceField: "Name", TargetField: "name"},
			{SourceField: "Phone", TargetField: "phone"},
		}

		out, err := tr.Apply(source, rules)
		require.NoError(t, err)
		_, present := out["phone"]
		assert.False(t, present)
	})
}

func TestTransformer_RequiredFields(t *testing.T) {
	tr := NewTransformer()
	rules := []integration.FieldMapping{
		{SourceField: "Email", TargetField: "email", Required: true},
	}

	t.Run("missing key fails", func(t *testing.T) {
		_, err := tr.Apply(integration.EntityRecord{"Name": "Ada"}, rules)
		require.Error(t, err)

		var missing *integration.MissingRequiredFieldError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "Email", missing.Field)
	})

	t.Run("empty string is present", func(t *testing.T) {
		out, err := tr.Apply(integration.EntityRecord{"Email": ""}, rules)
		require.NoError(t, err)
		assert.Equal(t, "", out["email"])
	})

	t.Run("nil value is present", func(t *testing.T) {
		out, err := tr.Apply(integration.EntityRecord{"Email": nil}, rules)
		require.NoError(t, err)
		assert.Nil(t, out["email"])
	})

	t.Run("missing nested key fails", func(t *testing.T) {
		nested := []integration.FieldMapping{
			{SourceField: "Owner.Email", TargetField: "owner_email", Required: true},
		}
		_, err := tr.Apply(integration.EntityRecord{"Owner": map[string]any{}}, nested)
		var missing *integration.MissingRequiredFieldError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "Owner.Email", missing.Field)
	})
}

func TestTransformer_NamedTransforms(t *testing.T) {
	tr := NewTransformer()

	tests := []struct {
		name      string
		transform integration.TransformKind
		in        any
		want      any
	}{
		{"uppercase", integration.TransformUppercase, "acme corp", "ACME CORP"},
		{"lowercase", integration.TransformLowercase, "Ada@Example.COM", "ada@example.com"},
		{"trim", integration.TransformTrim, "  padded  ", "padded"},
		{"boolean true", integration.TransformBoolean, "yes", true},
		{"boolean false", integration.TransformBoolean, "0", false},
		{"boolean from number", integration.TransformBoolean, 1, true},
		{"number from string", integration.TransformNumber, "42.5", 42.5},
		{"number from int", integration.TransformNumber, 7, 7.0},
		{"string from number", integration.TransformString, 99.0, "99"},
		{"string from bool", integration.TransformString, true, "true"},
		{"uppercase non-string passthrough", integration.TransformUppercase, 12, 12},
		{"unknown transform passthrough", integration.TransformKind("rot13"), "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tr.Apply(
				integration.EntityRecord{"v": tt.in},
				[]integration.FieldMapping{{SourceField: "v", TargetField: "v", Transform: tt.transform}},
			)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["v"])
		})
	}

	t.Run("date_iso from time", func(t *testing.T) {
		ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		out, err := tr.Apply(
			integration.EntityRecord{"v": ts},
			[]integration.FieldMapping{{SourceField: "v", TargetField: "v", Transform: integration.TransformDateISO}},
		)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-14T09:26:53Z", out["v"])
	})

	t.Run("date_iso from date string", func(t *testing.T) {
		out, err := tr.Apply(
			integration.EntityRecord{"v": "2026-03-14"},
			[]integration.FieldMapping{{SourceField: "v", TargetField: "v", Transform: integration.TransformDateISO}},
		)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-14T00:00:00Z", out["v"])
	})
}

func TestTransformer_Expressions(t *testing.T) {
	tr := NewTransformer()

	t.Run("expression over value", func(t *testing.T) {
		out, err := tr.Apply(
			integration.EntityRecord{"Amount": 100.0},
			[]integration.FieldMapping{
				{SourceField: "Amount", TargetField: "amount_cents", Expression: "value * 100"},
			},
		)
		require.NoError(t, err)
		assert.Equal(t, 10000.0, out["amount_cents"])
	})

	t.Run("expression sees full record", func(t *testing.T) {
		out, err := tr.Apply(
			integration.EntityRecord{"FirstName": "Ada", "LastName": "Lovelace"},
			[]integration.FieldMapping{
				{SourceField: "FirstName", TargetField: "full_name",
					Expression: `value + " " + record.LastName`},
			},
		)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", out["full_name"])
	})

	t.Run("expression runs after named transform", func(t *testing.T) {
		out, err := tr.Apply(
			integration.EntityRecord{"Code": "ab"},
			[]integration.FieldMapping{
				{SourceField: "Code", TargetField: "code",
					Transform:  integration.TransformUppercase,
					Expression: `"X-" + value`},
			},
		)
		require.NoError(t, err)
		assert.Equal(t, "X-AB", out["code"])
	})

	t.Run("broken expression fails the transform", func(t *testing.T) {
		_, err := tr.Apply(
			integration.EntityRecord{"v": 1},
			[]integration.FieldMapping{{SourceField: "v", TargetField: "v", Expression: "value +* 2"}},
		)
		assert.Error(t, err)
	})
}
