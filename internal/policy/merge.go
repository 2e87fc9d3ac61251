package policy

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/domain"
)

var (
	decimalType  = reflect.TypeOf(decimal.Decimal{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// EffectivePolicy is the merged view of one or more jurisdictions. Each
// decision computes its own and discards it afterwards.
type EffectivePolicy struct {
	Codes        []string
	Parameters   Parameters
	Versions     map[string]string
	SnapshotHash string

	// Provenance maps a parameter path to the codes whose value won.
	Provenance map[string][]string
}

// Merge combines policies into an EffectivePolicy using the most
// restrictive value for every parameter. The result does not depend on
// argument order, and a single policy merges to its own parameters.
func Merge(policies ...*JurisdictionPolicy) (*EffectivePolicy, error) {
	if len(policies) == 0 {
		return nil, errors.New("merge requires at least one policy")
	}
	sorted := make([]*JurisdictionPolicy, len(policies))
	copy(sorted, policies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	m := &merger{
		codes: make([]string, len(sorted)),
		prov:  make(map[string][]string),
	}
	ins := make([]reflect.Value, len(sorted))
	versions := make(map[string]string, len(sorted))
	for i, p := range sorted {
		if i > 0 && p.Code == sorted[i-1].Code {
			return nil, fmt.Errorf("duplicate jurisdiction %s", p.Code)
		}
		m.codes[i] = p.Code
		ins[i] = reflect.ValueOf(p.Parameters)
		versions[p.Code] = p.Version
	}

	var out Parameters
	if err := m.mergeStruct("", reflect.ValueOf(&out).Elem(), ins); err != nil {
		return nil, err
	}
	if msg := checkMonotonic(out.Risk.Thresholds); msg != "" {
		values := make(map[string]any, len(sorted))
		for _, p := range sorted {
			values[p.Code] = describeThresholds(p.Risk.Thresholds)
		}
		return nil, &ConflictError{Path: "risk.thresholds", Values: values, Reason: "merged " + msg}
	}

	return &EffectivePolicy{
		Codes:      m.codes,
		Parameters: out,
		Versions:   versions,
		Provenance: m.prov,
	}, nil
}

func describeThresholds(t Thresholds) string {
	f := func(v *float64) string {
		if v == nil {
			return "unset"
		}
		return fmt.Sprint(*v)
	}
	return fmt.Sprintf("monitor=%s escalate=%s block=%s", f(t.Monitor), f(t.Escalate), f(t.Block))
}

// Sources returns the codes that supplied the value in force at path.
// Paths without recorded provenance fall back to every merged code.
func (e *EffectivePolicy) Sources(path string) []string {
	if codes, ok := e.Provenance[path]; ok {
		return codes
	}
	return e.Codes
}

// Ref builds a rule reference for path with its current value.
func (e *EffectivePolicy) Ref(path string) domain.RuleReference {
	v, _ := e.Value(path)
	return domain.RuleReference{
		Path:          path,
		Value:         v,
		Jurisdictions: e.Sources(path),
	}
}

// Value renders the merged value at a dotted path.
func (e *EffectivePolicy) Value(path string) (string, bool) {
	v := reflect.ValueOf(e.Parameters)
	parts := strings.Split(path, ".")
	for i := 0; i < len(parts); i++ {
		switch v.Kind() {
		case reflect.Struct:
			f, ok := fieldByYAMLName(v, parts[i])
			if !ok {
				return "", false
			}
			v = f
		case reflect.Map:
			mv := v.MapIndex(reflect.ValueOf(parts[i]))
			if !mv.IsValid() {
				return "", false
			}
			v = mv
		default:
			return "", false
		}
	}
	return render(v)
}

func render(v reflect.Value) (string, bool) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice && v.IsNil() {
		return "", false
	}
	switch x := v.Interface().(type) {
	case decimal.Decimal:
		return x.String(), true
	case Extension:
		return fmt.Sprint(x.Value), true
	default:
		return fmt.Sprint(x), true
	}
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if yamlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

type merger struct {
	codes []string
	prov  map[string][]string
}

func (m *merger) mergeStruct(path string, out reflect.Value, ins []reflect.Value) error {
	t := out.Type()
	for i := 0; i < t.NumField(); i++ {
		name := yamlName(t.Field(i))
		if name == "" {
			continue
		}
		fieldIns := make([]reflect.Value, len(ins))
		for j, in := range ins {
			fieldIns[j] = in.Field(i)
		}
		if err := m.mergeField(joinPath(path, name), out.Field(i), fieldIns); err != nil {
			return err
		}
	}
	return nil
}

func (m *merger) mergeField(path string, out reflect.Value, ins []reflect.Value) error {
	if out.Kind() == reflect.Struct {
		return m.mergeStruct(path, out, ins)
	}
	rule, ok := mergeRules[path]
	if !ok {
		return fmt.Errorf("no merge rule for %s", path)
	}
	switch out.Kind() {
	case reflect.Ptr:
		return m.mergeScalar(path, rule, out, ins)
	case reflect.Slice:
		return m.mergeList(path, rule, out, ins)
	case reflect.Map:
		return m.mergeMap(path, rule, out, ins)
	}
	return fmt.Errorf("unsupported parameter kind %s at %s", out.Kind(), path)
}

type present struct {
	code string
	v    reflect.Value
}

func (m *merger) mergeScalar(path string, rule Rule, out reflect.Value, ins []reflect.Value) error {
	var vals []present
	for i, in := range ins {
		if !in.IsNil() {
			vals = append(vals, present{m.codes[i], in.Elem()})
		}
	}
	if len(vals) == 0 {
		return nil
	}
	winner, sources, err := pick(path, rule, vals)
	if err != nil {
		return err
	}
	nv := reflect.New(out.Type().Elem())
	nv.Elem().Set(winner)
	out.Set(nv)
	m.prov[path] = sources
	return nil
}

// pick applies a scalar rule and returns the winning value plus the codes
// that supplied it.
func pick(path string, rule Rule, vals []present) (reflect.Value, []string, error) {
	switch rule {
	case MergeMin, MergeMax:
		best := vals[0].v
		for _, p := range vals[1:] {
			c := compare(p.v, best)
			if (rule == MergeMin && c < 0) || (rule == MergeMax && c > 0) {
				best = p.v
			}
		}
		var sources []string
		for _, p := range vals {
			if compare(p.v, best) == 0 {
				sources = append(sources, p.code)
			}
		}
		return best, sources, nil

	case MergeOr, MergeAnd:
		// Or: true wins. And: false wins.
		decisive := rule == MergeOr
		var sources []string
		for _, p := range vals {
			if p.v.Bool() == decisive {
				sources = append(sources, p.code)
			}
		}
		if len(sources) > 0 {
			return reflect.ValueOf(decisive), sources, nil
		}
		return reflect.ValueOf(!decisive), codesOf(vals), nil

	case MergeEqual:
		first := vals[0].v
		for _, p := range vals[1:] {
			if !reflect.DeepEqual(p.v.Interface(), first.Interface()) {
				return reflect.Value{}, nil, conflict(path, "jurisdictions disagree", vals)
			}
		}
		return first, codesOf(vals), nil
	}
	return reflect.Value{}, nil, fmt.Errorf("rule %s does not apply to scalar %s", rule, path)
}

func (m *merger) mergeList(path string, rule Rule, out reflect.Value, ins []reflect.Value) error {
	var vals []present
	for i, in := range ins {
		if !in.IsNil() {
			vals = append(vals, present{m.codes[i], in})
		}
	}
	if len(vals) == 0 {
		return nil
	}

	result := make([]string, 0, vals[0].v.Len())
	switch rule {
	case MergeUnion:
		seen := make(map[string]struct{})
		for _, p := range vals {
			for _, s := range p.v.Interface().([]string) {
				if _, ok := seen[s]; !ok {
					seen[s] = struct{}{}
					result = append(result, s)
				}
			}
		}
	case MergeIntersect:
		for _, s := range vals[0].v.Interface().([]string) {
			inAll := true
			for _, p := range vals[1:] {
				if !contains(p.v.Interface().([]string), s) {
					inAll = false
					break
				}
			}
			if inAll {
				result = append(result, s)
			}
		}
		if len(result) == 0 && len(vals) > 1 {
			return conflict(path, "allow-lists have no common value", vals)
		}
	default:
		return fmt.Errorf("rule %s does not apply to list %s", rule, path)
	}
	out.Set(reflect.ValueOf(result))
	m.prov[path] = codesOf(vals)
	return nil
}

// mergeMap merges map-valued parameters key by key. A key set by only
// some jurisdictions is merged across those that set it.
func (m *merger) mergeMap(path string, rule Rule, out reflect.Value, ins []reflect.Value) error {
	if !hasNonNil(ins) {
		return nil
	}
	result := reflect.MakeMap(out.Type())
	for _, key := range unionKeys(ins) {
		var vals []present
		for i, in := range ins {
			if in.IsNil() {
				continue
			}
			if v := in.MapIndex(key); v.IsValid() {
				vals = append(vals, present{m.codes[i], v})
			}
		}
		keyPath := path + "." + key.String()
		winner, sources, err := pick(keyPath, rule, vals)
		if err != nil {
			return err
		}
		result.SetMapIndex(key, winner)
		m.prov[keyPath] = sources
	}
	out.Set(result)
	return nil
}

func compare(a, b reflect.Value) int {
	switch {
	case a.Type() == decimalType:
		return a.Interface().(decimal.Decimal).Cmp(b.Interface().(decimal.Decimal))
	case a.Type() == durationType, a.Kind() == reflect.Int, a.Kind() == reflect.Int64:
		x, y := a.Int(), b.Int()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case a.Kind() == reflect.Float64:
		x, y := a.Float(), b.Float()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("policy: cannot order %s", a.Type()))
}

func unionKeys(ins []reflect.Value) []reflect.Value {
	seen := make(map[string]reflect.Value)
	for _, in := range ins {
		if in.IsNil() {
			continue
		}
		for _, k := range in.MapKeys() {
			seen[k.String()] = k
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	keys := make([]reflect.Value, len(names))
	for i, name := range names {
		keys[i] = seen[name]
	}
	return keys
}

func hasNonNil(ins []reflect.Value) bool {
	for _, in := range ins {
		if !in.IsNil() {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func codesOf(vals []present) []string {
	out := make([]string, len(vals))
	for i, p := range vals {
		out[i] = p.code
	}
	return out
}

func conflict(path, reason string, vals []present) *ConflictError {
	values := make(map[string]any, len(vals))
	for _, p := range vals {
		values[p.code] = p.v.Interface()
	}
	return &ConflictError{Path: path, Values: values, Reason: reason}
}
