package profile

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValueType selects how a profile's results are encoded for storage.
type ValueType string

const (
	ValueInteger ValueType = "integer"
	ValueDouble  ValueType = "double"
	ValueSketch  ValueType = "sketch"
)

// DefaultQualifier names the result when a profile declares a single scalar result.
const DefaultQualifier = "value"

// Reserved names are bound by the engine and cannot be used as profile variables.
var Reserved = map[string]struct{}{
	"message":      {},
	"entity":       {},
	"profile":      {},
	"period_start": {},
	"period_end":   {},
}

// Assignment binds the value of an expression to a name.
type Assignment struct {
	Name string
	Expr string
}

// Assignments is an ordered list of assignments. In YAML it is written as a
// mapping; declaration order is preserved.
type Assignments []Assignment

// UnmarshalYAML keeps mapping order, which a Go map would lose.
func (a *Assignments) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of name: expression", node.Line)
	}
	out := make(Assignments, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expression for %q must be a scalar", v.Line, k.Value)
		}
		out = append(out, Assignment{Name: k.Value, Expr: v.Value})
	}
	*a = out
	return nil
}

// Names returns the assigned names in declaration order.
func (a Assignments) Names() []string {
	names := make([]string, len(a))
	for i, as := range a {
		names[i] = as.Name
	}
	return names
}

// Definition describes one rolling profile. Definitions are immutable for a run.
type Definition struct {
	Name        string
	Foreach     string // entity expression
	OnlyIf      string // predicate; empty means always
	Init        Assignments
	Update      Assignments
	Result      Assignments // qualifier → expression
	ValueType   ValueType
	Period      time.Duration
	TTL         time.Duration
	Fingerprint string // SHA-256 of the source file; computed at load time
}

// Variables returns every state variable the profile assigns, in first-seen order.
func (d Definition) Variables() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range []Assignments{d.Init, d.Update} {
		for _, as := range list {
			if _, ok := seen[as.Name]; ok {
				continue
			}
			seen[as.Name] = struct{}{}
			out = append(out, as.Name)
		}
	}
	return out
}

// Validate checks the invariants a definition must satisfy before it is compiled.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if strings.TrimSpace(d.Foreach) == "" {
		return fmt.Errorf("profile %q: foreach must not be empty", d.Name)
	}
	if len(d.Result) == 0 {
		return fmt.Errorf("profile %q: result must not be empty", d.Name)
	}
	switch d.ValueType {
	case ValueInteger, ValueDouble, ValueSketch:
	default:
		return fmt.Errorf("profile %q: unsupported value_type %q", d.Name, d.ValueType)
	}
	if d.Period <= 0 {
		return fmt.Errorf("profile %q: period must be > 0", d.Name)
	}
	if d.TTL < d.Period {
		return fmt.Errorf("profile %q: ttl %s must be >= period %s", d.Name, d.TTL, d.Period)
	}
	for _, name := range d.Variables() {
		if _, ok := Reserved[name]; ok {
			return fmt.Errorf("profile %q: %q is a reserved name", d.Name, name)
		}
	}
	seen := make(map[string]struct{}, len(d.Result))
	for _, r := range d.Result {
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("profile %q: duplicate result %q", d.Name, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// rawDefinition is the on-disk YAML shape.
// result is either a single expression or a mapping of qualifier to expression.
type rawDefinition struct {
	Profile   string      `yaml:"profile"`
	Foreach   string      `yaml:"foreach"`
	OnlyIf    string      `yaml:"onlyif"`
	Init      Assignments `yaml:"init"`
	Update    Assignments `yaml:"update"`
	Result    yaml.Node   `yaml:"result"`
	ValueType string      `yaml:"value_type"`
	Period    string      `yaml:"period"`
	TTL       string      `yaml:"ttl"`
}

func (r rawDefinition) results() (Assignments, error) {
	switch r.Result.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return Assignments{{Name: DefaultQualifier, Expr: r.Result.Value}}, nil
	case yaml.MappingNode:
		var out Assignments
		if err := out.UnmarshalYAML(&r.Result); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("result must be an expression or a mapping")
	}
}

// Defaults fill in fields a profile file leaves unset.
type Defaults struct {
	Period    time.Duration
	TTL       time.Duration
	ValueType ValueType
}

// Repository defines the interface for loading profile definitions.
type Repository interface {
	// Get returns the definition with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*Definition, error)

	// Definitions returns all definitions sorted by name.
	Definitions() []Definition
}

// FileSystemRepository loads profile definitions from *.yaml files in a directory.
// Each file holds exactly one profile. Definitions are loaded once at startup.
type FileSystemRepository struct {
	dir      string
	defaults Defaults
	profiles map[string]Definition // keyed by Name
}

// NewFileSystemRepository creates a repository and eagerly loads every
// profile in dir. Returns an error if any file is malformed or invalid.
func NewFileSystemRepository(dir string, defaults Defaults) (*FileSystemRepository, error) {
	repo := &FileSystemRepository{
		dir:      dir,
		defaults: defaults,
		profiles: make(map[string]Definition),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // zero profiles configured
	}
	if err != nil {
		return fmt.Errorf("profile dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("profile path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading profile dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading profile file %s: %w", path, err)
		}

		def, err := r.parse(data)
		if err != nil {
			return fmt.Errorf("parsing profile file %s: %w", path, err)
		}
		if def == nil {
			continue // empty or comment-only file
		}

		if _, exists := r.profiles[def.Name]; exists {
			return fmt.Errorf("profile %q: duplicate profile name (check multiple YAML files)", def.Name)
		}
		r.profiles[def.Name] = *def
	}
	return nil
}

func (r *FileSystemRepository) parse(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Profile == "" {
		return nil, nil
	}

	results, err := raw.results()
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", raw.Profile, err)
	}

	def := Definition{
		Name:        raw.Profile,
		Foreach:     raw.Foreach,
		OnlyIf:      raw.OnlyIf,
		Init:        raw.Init,
		Update:      raw.Update,
		Result:      results,
		ValueType:   r.defaults.ValueType,
		Period:      r.defaults.Period,
		TTL:         r.defaults.TTL,
		Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
	}
	if raw.ValueType != "" {
		def.ValueType = ValueType(raw.ValueType)
	}
	if def.ValueType == "" {
		def.ValueType = ValueDouble
	}
	if raw.Period != "" {
		if def.Period, err = ParseDuration(raw.Period); err != nil {
			return nil, fmt.Errorf("profile %q: period: %w", raw.Profile, err)
		}
	}
	if raw.TTL != "" {
		if def.TTL, err = ParseDuration(raw.TTL); err != nil {
			return nil, fmt.Errorf("profile %q: ttl: %w", raw.Profile, err)
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Get returns the definition with the given name, or an error if not found.
func (r *FileSystemRepository) Get(_ context.Context, name string) (*Definition, error) {
	def, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	return &def, nil
}

// Definitions returns all definitions sorted by name.
func (r *FileSystemRepository) Definitions() []Definition {
	out := make([]Definition, 0, len(r.profiles))
	for _, def := range r.profiles {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
