package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Values are resolved from the process environment first and then from
// config/config-<phase>.yaml, whose nested keys are flattened to
// upper-case underscore names (indexer.poll_interval -> INDEXER_POLL_INTERVAL).

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
	Keys   int
}

type fileLayer struct {
	phase  string
	path   string
	loaded bool
	values map[string]string
}

var (
	runtimeOnce  sync.Once
	runtimeErr   error
	runtimeLayer fileLayer
)

func ensureRuntimeConfigLoaded() error {
	runtimeOnce.Do(func() {
		runtimeLayer, runtimeErr = loadFileLayer(os.Getenv("CONFIG_PHASE"), os.Getenv("CONFIG_FILE"))
	})
	return runtimeErr
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeLayer.phase,
		Path:   runtimeLayer.path,
		Loaded: runtimeLayer.loaded,
		Keys:   len(runtimeLayer.values),
	}, nil
}

func loadFileLayer(phase, explicitPath string) (fileLayer, error) {
	layer := fileLayer{
		phase:  strings.TrimSpace(phase),
		values: map[string]string{},
	}
	if layer.phase == "" {
		layer.phase = "local"
	}

	path := strings.TrimSpace(explicitPath)
	explicit := path != ""
	if !explicit {
		path = filepath.Join("config", "config-"+layer.phase+".yaml")
	}
	layer.path = path

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return layer, nil
		}
		return layer, fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return layer, fmt.Errorf("parse config file %q: %w", path, err)
	}

	values, err := flattenYAML(raw)
	if err != nil {
		return layer, fmt.Errorf("flatten config file %q: %w", path, err)
	}

	layer.values = values
	layer.loaded = true
	if abs, err := filepath.Abs(path); err == nil {
		layer.path = abs
	}
	return layer, nil
}

func flattenYAML(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	if err := flattenInto("", raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			segment := keySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenInto(joinKey(prefix, segment), typed[key], out); err != nil {
				return err
			}
		}
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for key, child := range typed {
			text, ok := key.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", key, prefix)
			}
			converted[text] = child
		}
		return flattenInto(prefix, converted, out)
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			switch item.(type) {
			case map[string]any, []any:
				return fmt.Errorf("nested list item under %q is not supported", prefix)
			case nil:
				continue
			}
			text := strings.TrimSpace(fmt.Sprint(item))
			if text != "" {
				items = append(items, text)
			}
		}
		out[prefix] = strings.Join(items, ",")
	case nil:
	default:
		if prefix == "" {
			return fmt.Errorf("scalar config document is not supported")
		}
		out[prefix] = fmt.Sprint(typed)
	}
	return nil
}

func joinKey(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "_" + segment
}

func keySegment(raw string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}
	return strings.TrimSpace(runtimeLayer.values[key])
}

func expandHomePath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")), nil
}
