// Package transform translates schemaless records between a remote
// system's field layout and the local CRM layout, driven by declarative
// field mapping rules.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/crmhub/backend/internal/domain/integration"
)

// Transformer applies field mapping rules to records. It is safe for
// concurrent use; compiled expressions are cached across calls.
type Transformer struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewTransformer creates a transformer with an empty expression cache
func NewTransformer() *Transformer {
	return &Transformer{cache: make(map[string]*vm.Program)}
}

// Apply maps a source record into a new target record under the given
// rules. Rules whose source field is absent are skipped unless marked
// required, in which case the whole transform fails. Only a missing key
// counts as absent; nil or empty values are mapped through.
func (t *Transformer) Apply(source integration.EntityRecord, rules []integration.FieldMapping) (integration.EntityRecord, error) {
	target := make(integration.EntityRecord)
	for _, rule := range rules {
		value, ok := lookupPath(source, rule.SourceField)
		if !ok {
			if rule.Required {
				return nil, &integration.MissingRequiredFieldError{Field: rule.SourceField}
			}
			continue
		}

		value = applyNamed(rule.Transform, value)

		if rule.Expression != "" {
			out, err := t.evalExpression(rule.Expression, value, source)
			if err != nil {
				return nil, fmt.Errorf("transform %q -> %q: %w", rule.SourceField, rule.TargetField, err)
			}
			value = out
		}

		setPath(target, rule.TargetField, value)
	}
	return target, nil
}

func (t *Transformer) evalExpression(expression string, value any, record integration.EntityRecord) (any, error) {
	prog, err := t.compile(expression)
	if err != nil {
		return nil, err
	}
	env := map[string]any{
		"value":  value,
		"record": map[string]any(record),
	}
	return expr.Run(prog, env)
}

func (t *Transformer) compile(expression string) (*vm.Program, error) {
	t.mu.RLock()
	prog, ok := t.cache[expression]
	t.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}

	t.mu.Lock()
	t.cache[expression] = prog
	t.mu.Unlock()
	return prog, nil
}

// applyNamed runs a built-in transformation. Unrecognized names are a
// passthrough, never an error: a stale mapping must not break a sync.
func applyNamed(kind integration.TransformKind, value any) any {
	switch kind {
	case integration.TransformNone:
		return value
	case integration.TransformUppercase:
		if s, ok := value.(string); ok {
			return strings.ToUpper(s)
		}
	case integration.TransformLowercase:
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
	case integration.TransformTrim:
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s)
		}
	case integration.TransformDateISO:
		return toISODate(value)
	case integration.TransformBoolean:
		return toBoolean(value)
	case integration.TransformNumber:
		if n, ok := toNumber(value); ok {
			return n
		}
	case integration.TransformString:
		return toString(value)
	}
	return value
}

func toISODate(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return value
		}
		return v.UTC().Format(time.RFC3339)
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC().Format(time.RFC3339)
			}
		}
	}
	return value
}

func toBoolean(value any) any {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y", "on":
			return true
		case "false", "0", "no", "n", "off", "":
			return false
		}
	default:
		if n, ok := toNumber(value); ok {
			return n != 0
		}
	}
	return value
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// lookupPath walks a dotted path through nested maps. The boolean is
// false only when a key on the path is absent; a present nil is found.
func lookupPath(record map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = map[string]any(record)
	for _, seg := range segments {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes a value at a dotted path, creating intermediate maps.
// A non-map intermediate value is replaced by a map.
func setPath(record map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := record
	for _, seg := range segments[:len(segments)-1] {
		next, ok := asMap(current[seg])
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

func asMap(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case integration.EntityRecord:
		return m, true
	default:
		return nil, false
	}
}
