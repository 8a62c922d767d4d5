// Package spec holds the declarative description of what to tail and where
// to send it. Parsing the operator-facing configuration language is an
// external collaborator's job (spec.md treats it as out of scope); this
// package only defines the validated shape that collaborator hands us, plus
// a thin JSON adapter so the rest of the module has something concrete to
// load in tests and examples.
package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StartPosition selects where a newly-opened reader begins tailing.
type StartPosition int

const (
	// LogStart resumes from the Offset Store, falling back to 0.
	LogStart StartPosition = iota
	// Start always begins at byte 0.
	Start
	// LogEnd resumes from the Offset Store, falling back to end-of-file.
	LogEnd
	// End always begins at end-of-file; the position is not aligned back
	// to the last newline.
	End
)

func (p StartPosition) String() string {
	switch p {
	case LogStart:
		return "log_start"
	case Start:
		return "start"
	case LogEnd:
		return "log_end"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// ParseStartPosition parses the four policy names from spec.md section 4.2.
func ParseStartPosition(s string) (StartPosition, error) {
	switch strings.ToLower(s) {
	case "log_start":
		return LogStart, nil
	case "start":
		return Start, nil
	case "log_end":
		return LogEnd, nil
	case "end":
		return End, nil
	default:
		return 0, fmt.Errorf("spec: unknown start position %q", s)
	}
}

// Partitioner selects how a spec's messages are assigned to a broker
// partition (spec.md section 4.6).
type Partitioner int

const (
	// PartitionerDefault leaves the choice to the producer's sarama hash
	// partitioner; MainConfig.Partition is not consulted.
	PartitionerDefault Partitioner = iota
	// PartitionerFixed always uses Partition.
	PartitionerFixed
	// PartitionerAutoHost derives the partition from a hash of the host
	// address, modulo the partition count.
	PartitionerAutoHost
)

// Mode selects one of the four Transform Function behaviours
// (spec.md section 4.3).
type Mode int

const (
	ModeNone Mode = iota
	ModeFilter
	ModeGrep
	ModeTransform
	ModeAggregate
)

func (m Mode) String() string {
	switch m {
	case ModeFilter:
		return "filter"
	case ModeGrep:
		return "grep"
	case ModeTransform:
		return "transform"
	case ModeAggregate:
		return "aggregate"
	default:
		return "none"
	}
}

// FileSpec is the declarative description of one tailed file and its
// output topic. Immutable for the lifetime of a worker process.
type FileSpec struct {
	// File is the source path. It is opened as given: date placeholders
	// are not resolved, and FileWithTimeFormat is carried but unused.
	File  string `json:"file"`
	Topic string `json:"topic"`

	StartPos    StartPosition `json:"-"`
	StartPosRaw string        `json:"startpos"`

	Partitioner Partitioner `json:"-"`
	Partition   int32       `json:"partition"`
	AutoParti   bool        `json:"autoparti"`

	RawCopy   bool `json:"rawcopy"`
	AutoCreat bool `json:"autocreat"`

	FileWithTimeFormat string `json:"fileWithTimeFormat"`

	// TimeIdx is the 1-based index of the timestamp column, 0 if unset.
	TimeIdx int `json:"timeidx"`

	WithHost bool `json:"withhost"`
	WithTime bool `json:"withtime"`
	AutoNL   bool `json:"autonl"`

	PKey   string `json:"pkey"`
	MD5Sum bool   `json:"md5sum"`

	Mode Mode `json:"-"`

	// Filter holds the 1-based (negative-from-end) field indexes used by
	// ModeFilter.
	Filter []int `json:"filter,omitempty"`

	// EvaluatorName names the scripted callback used by ModeGrep,
	// ModeTransform and ModeAggregate, resolved by the caller against a
	// transform.Evaluator registry. The scripting engine itself is out of
	// scope for this module.
	EvaluatorName string `json:"evaluator,omitempty"`

	// NoAutoSplit disables field splitting for filter/grep/aggregate modes,
	// handing the whole line as a single field instead. Supplemented from
	// original_source/src/tail2kafka.cc's `autosplit` knob; not named in
	// spec.md but not excluded by its Non-goals either.
	NoAutoSplit bool `json:"noautosplit"`
}

// UnmarshalJSON resolves the raw string enums into their typed forms after
// the default unmarshal, and records which transform mode was configured.
func (f *FileSpec) UnmarshalJSON(data []byte) error {
	type alias FileSpec
	aux := &struct {
		Grep      string `json:"grep"`
		Transform string `json:"transform"`
		Aggregate string `json:"aggregate"`
		*alias
	}{alias: (*alias)(f)}

	f.Partition = -1 // distinguishes an unset "partition" key from an explicit 0

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if f.StartPosRaw == "" {
		f.StartPosRaw = "log_start"
	}
	pos, err := ParseStartPosition(f.StartPosRaw)
	if err != nil {
		return fmt.Errorf("spec: file %s: %w", f.File, err)
	}
	f.StartPos = pos

	if f.Partition >= 0 {
		f.Partitioner = PartitionerFixed
	} else if f.AutoParti {
		f.Partitioner = PartitionerAutoHost
	} else {
		f.Partitioner = PartitionerDefault
	}

	switch {
	case len(f.Filter) > 0:
		f.Mode = ModeFilter
	case aux.Grep != "":
		f.Mode = ModeGrep
		f.EvaluatorName = aux.Grep
	case aux.Transform != "":
		f.Mode = ModeTransform
		f.EvaluatorName = aux.Transform
	case aux.Aggregate != "":
		f.Mode = ModeAggregate
		f.EvaluatorName = aux.Aggregate
	default:
		f.Mode = ModeNone
	}

	if f.Mode == ModeAggregate && f.TimeIdx == 0 {
		return fmt.Errorf("spec: file %s: aggregate requires timeidx", f.File)
	}

	return nil
}

// MainConfig is the per-worker configuration surface from spec.md section 6.
type MainConfig struct {
	HostShell      string            `json:"hostshell"`
	PidFile        string            `json:"pidfile"`
	Brokers        []string          `json:"brokers"`
	Partition      int32             `json:"partition"`
	PollLimitMS    int               `json:"polllimit"`
	RotateDelaySec int               `json:"rotatedelay"`
	PingbackURL    string            `json:"pingbackurl"`
	LibDir         string            `json:"libdir"`
	LogDir         string            `json:"logdir"`
	KafkaGlobal    map[string]string `json:"kafka_global"`
	KafkaTopic     map[string]string `json:"kafka_topic"`
}

// LoadDir reads a validated configuration directory: "main.json" for the
// MainConfig, and every "*.json" file under a "specs" subdirectory for one
// FileSpec each. This is an adapter over an already-validated representation,
// not a configuration language parser (out of scope per spec.md).
func LoadDir(dir string) (*MainConfig, []FileSpec, error) {
	mainPath := filepath.Join(dir, "main.json")
	mainBytes, err := os.ReadFile(mainPath)
	if err != nil {
		return nil, nil, fmt.Errorf("spec: read %s: %w", mainPath, err)
	}

	var cfg MainConfig
	if err := json.Unmarshal(mainBytes, &cfg); err != nil {
		return nil, nil, fmt.Errorf("spec: parse %s: %w", mainPath, err)
	}

	specDir := filepath.Join(dir, "specs")
	entries, err := os.ReadDir(specDir)
	if err != nil {
		return nil, nil, fmt.Errorf("spec: read %s: %w", specDir, err)
	}

	var specs []FileSpec
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(specDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("spec: read %s: %w", path, err)
		}
		var fs FileSpec
		if err := json.Unmarshal(data, &fs); err != nil {
			return nil, nil, fmt.Errorf("spec: parse %s: %w", path, err)
		}
		specs = append(specs, fs)
	}

	return &cfg, specs, nil
}
