// Package config loads the INI-based pipe-splitting configuration into the
// data model the pipes engine runs against. Parsing is a pure function of
// the file on disk; it has no knowledge of Reader/Writer lifecycles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// OperationMode is the two-letter I/O mode code carried by a Config.
// Only ModeTextRead/ModeTextWrite are exercised by the engine; the
// bytes-mode codes parse successfully but have no I/O path (spec non-goal).
type OperationMode string

const (
	ModeTextRead   OperationMode = "rt"
	ModeTextWrite  OperationMode = "wt"
	ModeBytesRead  OperationMode = "rb"
	ModeBytesWrite OperationMode = "wb"
)

func (m OperationMode) String() string {
	if m == "" {
		return "*"
	}
	return string(m)
}

// DefaultRoot is used when [DEFAULT] does not set root.
const DefaultRoot = "/tmp/cvnpipes"

// DefaultFifoMode is the permission mode used for destination FIFOs.
const DefaultFifoMode os.FileMode = 0o777

// Config is the read- or write-side enablement and mode for one pipe end.
type Config struct {
	Enabled bool
	Mode    OperationMode
}

// DefaultReadConfig is used for an input pipe with no configuration string.
func DefaultReadConfig() Config {
	return Config{Enabled: true, Mode: ModeTextRead}
}

// DefaultWriteConfig is used for an output pipe with no configuration string.
func DefaultWriteConfig() Config {
	return Config{Enabled: true, Mode: ModeTextWrite}
}

func (c Config) String() string {
	return fmt.Sprintf("[enabled: %t, mode: %s]", c.Enabled, c.Mode)
}

// SplitOut is one destination FIFO and its write-side configuration.
// Immutable after construction; shared by reference between the supervisor
// and the single Writer that owns it.
type SplitOut struct {
	Path   string
	Config Config
}

func (o *SplitOut) String() string {
	return fmt.Sprintf("OUT(pipe: %s, configuration: %s)", o.Path, o.Config)
}

// SplitIn is one source FIFO, its read-side configuration, and the ordered
// set of destinations it fans out to. Immutable after construction; shared
// by reference between the supervisor and the single Reader that owns it.
type SplitIn struct {
	Path    string
	Config  Config
	Outputs []*SplitOut
}

// EnabledOutputs returns the count of outputs with Config.Enabled set.
func (in *SplitIn) EnabledOutputs() int {
	n := 0
	for _, o := range in.Outputs {
		if o.Config.Enabled {
			n++
		}
	}
	return n
}

func (in *SplitIn) String() string {
	return fmt.Sprintf("IN(pipe: %s, configuration: %s, outputs: [count: %d, enabled: %d])",
		in.Path, in.Config, len(in.Outputs), in.EnabledOutputs())
}

// Loaded is the result of parsing a configuration file: the root directory
// every FIFO lives under, plus one SplitIn per [PIPES] entry.
type Loaded struct {
	Root   string
	Inputs []*SplitIn
}

// Load parses the INI file at path into a Loaded configuration. The root
// directory is created (recursively) if it does not already exist; failure
// to do so is a fatal configuration error, per spec.
func Load(path string) (*Loaded, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading configuration %q", path)
	}
	return parse(cfg)
}

func parse(cfg *ini.File) (*Loaded, error) {
	root := cfg.Section("DEFAULT").Key("root").MustString(DefaultRoot)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, errors.Wrap(err, "could not create pipe root directory")
		}
	}

	pipesSection, err := cfg.GetSection("PIPES")
	if err != nil {
		return nil, errors.New("configuration must contain a 'PIPES' section")
	}

	inputs, err := buildInputs(cfg, pipesSection, root)
	if err != nil {
		return nil, err
	}

	return &Loaded{Root: root, Inputs: inputs}, nil
}

func buildInputs(cfg *ini.File, pipesSection *ini.Section, root string) ([]*SplitIn, error) {
	inputs := make([]*SplitIn, 0, len(pipesSection.Keys()))

	for _, key := range pipesSection.Keys() {
		name := key.Name()

		readConfig, err := parseReadConfig(key.Value())
		if err != nil {
			return nil, err
		}

		outputs, err := buildOutputs(cfg, name, root)
		if err != nil {
			return nil, err
		}

		inputs = append(inputs, &SplitIn{
			Path:    filepath.Join(root, name),
			Config:  readConfig,
			Outputs: outputs,
		})
	}

	return inputs, nil
}

func buildOutputs(cfg *ini.File, inputName, root string) ([]*SplitOut, error) {
	section, err := cfg.GetSection(inputName)
	if err != nil {
		// No section for this input means no destinations.
		return nil, nil
	}

	outputs := make([]*SplitOut, 0, len(section.Keys()))
	for _, key := range section.Keys() {
		writeConfig, err := parseWriteConfig(key.Value())
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, &SplitOut{
			Path:   filepath.Join(root, key.Name()),
			Config: writeConfig,
		})
	}

	return outputs, nil
}

func parseReadConfig(raw string) (Config, error) {
	if raw == "" {
		return DefaultReadConfig(), nil
	}
	return parseSplitConfig(raw)
}

func parseWriteConfig(raw string) (Config, error) {
	if raw == "" {
		return DefaultWriteConfig(), nil
	}
	return parseSplitConfig(raw)
}

// parseSplitConfig parses the grammar "<enabled>,<mode>" where enabled is
// "1" for true (anything else is false) and mode is one of rt/rb/wt/wb.
func parseSplitConfig(raw string) (Config, error) {
	fields := strings.Split(raw, ",")

	enabled := false
	if len(fields) > 0 {
		enabled = strings.ToLower(strings.TrimSpace(fields[0])) == "1"
	}

	var mode OperationMode
	if len(fields) > 1 {
		switch strings.ToLower(strings.TrimSpace(fields[1])) {
		case string(ModeTextRead):
			mode = ModeTextRead
		case string(ModeBytesRead):
			mode = ModeBytesRead
		case string(ModeTextWrite):
			mode = ModeTextWrite
		case string(ModeBytesWrite):
			mode = ModeBytesWrite
		default:
			return Config{}, errors.Errorf("Unknown operation type '%s'", fields[1])
		}
	}

	return Config{Enabled: enabled, Mode: mode}, nil
}
