package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/weatharr/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "weatharr", "config.yaml"), nil
}

// NewManager loads configFile (or the default path), creating it with
// defaults when it does not exist yet.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("output", m.config.Output.URL).
		Msg("Config loaded")

	return m, nil
}

// NewMemoryManager wraps cfg without any backing file; Save is a no-op
func NewMemoryManager(cfg *Config) *Manager {
	return &Manager{config: cfg.clone()}
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", m.configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Save writes the current configuration back to disk
func (m *Manager) Save() error {
	if m.configPath == "" {
		return nil
	}

	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.clone()
}

// GetConfigPath returns the backing file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// SetValue assigns a dotted key such as "output.url" and validates the result.
// The in-memory config is only replaced when validation passes.
func (m *Manager) SetValue(key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.config.clone()
	field, err := lookupField(reflect.ValueOf(next).Elem(), key)
	if err != nil {
		return err
	}
	if err := assign(field, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	m.config = next
	return nil
}

// GetValue reads a dotted key
func (m *Manager) GetValue(key string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	field, err := lookupField(reflect.ValueOf(m.config).Elem(), key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// ApplyOverrides copies every key viper has a value for (bound flag or
// WEATHARR_* environment variable) over the file configuration.
func (m *Manager) ApplyOverrides(v *viper.Viper) error {
	for _, key := range Keys() {
		if !v.IsSet(key) {
			continue
		}
		if err := m.SetValue(key, v.Get(key)); err != nil {
			return fmt.Errorf("failed to apply override %s: %w", key, err)
		}
		logger.WithComponent("config").Debug().Str("key", key).Msg("Override applied")
	}
	return nil
}

// Keys lists every dotted configuration key in sorted order
func Keys() []string {
	var keys []string
	collectKeys(reflect.TypeOf(Config{}), "", &keys)
	sort.Strings(keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := yamlName(f)
		if name == "" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, name, keys)
			continue
		}
		*keys = append(*keys, name)
	}
}

func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

func lookupField(v reflect.Value, key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	for i, part := range parts {
		t := v.Type()
		found := false
		for j := 0; j < t.NumField(); j++ {
			if yamlName(t.Field(j)) == part {
				v = v.Field(j)
				found = true
				break
			}
		}
		if !found {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", key)
		}
		if i < len(parts)-1 && v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", key)
		}
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%s is a section, not a value", key)
	}
	return v, nil
}

func assign(field reflect.Value, value interface{}) error {
	switch field.Kind() {
	case reflect.String:
		s, err := cast.ToStringE(value)
		if err != nil {
			return err
		}
		field.SetString(s)
	case reflect.Int:
		n, err := cast.ToIntE(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		var items []string
		if s, ok := value.(string); ok {
			for _, part := range strings.Split(s, ",") {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, part)
				}
			}
		} else {
			var err error
			items, err = cast.ToStringSliceE(value)
			if err != nil {
				return err
			}
		}
		if items == nil {
			items = []string{}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Render.Pages = append([]string(nil), c.Render.Pages...)
	cp.Data.RSSURLs = append([]string(nil), c.Data.RSSURLs...)
	return &cp
}
