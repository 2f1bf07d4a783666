package sseserver

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/chatstream/pkg/sse"
)

//go:embed scripts/*.yaml
var builtin embed.FS

// ContentPlaceholder in a frame's content is replaced with the prompt of
// the request being answered.
const ContentPlaceholder = "{{content}}"

// Script describes one canned event stream.
type Script struct {
	// Name selects the script with ?script=name.
	Name string `yaml:"name"`

	Description string `yaml:"description,omitempty"`

	// ChunkSize splits the encoded body into writes of this many bytes,
	// flushing after each. Zero writes one frame per flush.
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// Delay is slept between writes.
	Delay time.Duration `yaml:"delay,omitempty"`

	// KeepAlive interleaves ": ping" comment lines between frames.
	KeepAlive bool `yaml:"keep_alive,omitempty"`

	// ReverseSequenced reverses the order of the frames carrying a
	// sequence number. Unsequenced frames keep their position.
	ReverseSequenced bool `yaml:"reverse_sequenced,omitempty"`

	// ShuffleSeed, when non-zero, shuffles the sequenced frames among
	// their positions with a deterministic generator.
	ShuffleSeed uint64 `yaml:"shuffle_seed,omitempty"`

	Frames []Frame `yaml:"frames"`
}

// Frame is one line of a script. Either Raw or Event is set.
type Frame struct {
	Event string `yaml:"event,omitempty"`

	// Content is shorthand for data: {content: ...}.
	Content string         `yaml:"content,omitempty"`
	Data    map[string]any `yaml:"data,omitempty"`

	Sequence *int64 `yaml:"sequence,omitempty"`

	// Raw is written as-is, e.g. "data: not json" or ": comment".
	Raw string `yaml:"raw,omitempty"`
}

func (f Frame) sequenced() bool {
	return f.Raw == "" && f.Sequence != nil
}

// line encodes the frame as a single wire line without the newline.
func (f Frame) line(prompt string) (string, error) {
	if f.Raw != "" {
		return f.Raw, nil
	}
	data := f.Data
	if f.Content != "" {
		data = map[string]any{"content": strings.ReplaceAll(f.Content, ContentPlaceholder, prompt)}
	}
	payload, err := json.Marshal(struct {
		Event    string         `json:"event"`
		Data     map[string]any `json:"data,omitempty"`
		Sequence *int64         `json:"sequence,omitempty"`
	}{f.Event, data, f.Sequence})
	if err != nil {
		return "", fmt.Errorf("encode %s frame: %w", f.Event, err)
	}
	return sse.DataPrefix + " " + string(payload), nil
}

// Lines returns the wire lines for the script in send order, reordering
// sequenced frames as configured.
func (s *Script) Lines(prompt string) ([]string, error) {
	frames := s.ordered()
	lines := make([]string, 0, 2*len(frames))
	for i, f := range frames {
		if s.KeepAlive && i > 0 {
			lines = append(lines, ": ping")
		}
		l, err := f.line(prompt)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Body returns the encoded stream.
func (s *Script) Body(prompt string) ([]byte, error) {
	lines, err := s.Lines(prompt)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

func (s *Script) ordered() []Frame {
	frames := slices.Clone(s.Frames)
	if !s.ReverseSequenced && s.ShuffleSeed == 0 {
		return frames
	}

	var slots []int
	var seq []Frame
	for i, f := range frames {
		if f.sequenced() {
			slots = append(slots, i)
			seq = append(seq, f)
		}
	}
	if s.ReverseSequenced {
		slices.Reverse(seq)
	}
	if s.ShuffleSeed != 0 {
		r := rand.New(rand.NewPCG(s.ShuffleSeed, s.ShuffleSeed))
		r.Shuffle(len(seq), func(i, j int) { seq[i], seq[j] = seq[j], seq[i] })
	}
	for i, slot := range slots {
		frames[slot] = seq[i]
	}
	return frames
}

// ParseScript decodes a YAML script, rejecting unknown fields.
func ParseScript(data []byte) (*Script, error) {
	var script Script
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&script); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := validateScript(&script); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &script, nil
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadScripts loads every .yaml or .yml file from path, which may be a
// directory or a single file. Duplicate names are an error.
func LoadScripts(path string) (map[string]*Script, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat scripts: %w", err)
	}
	if !info.IsDir() {
		s, err := LoadScript(path)
		if err != nil {
			return nil, err
		}
		return map[string]*Script{s.Name: s}, nil
	}
	return loadFS(os.DirFS(path), ".")
}

// Builtin returns the scripts compiled into the binary.
func Builtin() map[string]*Script {
	scripts, err := loadFS(builtin, "scripts")
	if err != nil {
		panic(fmt.Sprintf("builtin scripts: %v", err))
	}
	return scripts
}

func loadFS(fsys fs.FS, dir string) (map[string]*Script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	scripts := make(map[string]*Script)
	for _, e := range entries {
		ext := path.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		s, err := ParseScript(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if _, dup := scripts[s.Name]; dup {
			return nil, fmt.Errorf("duplicate script name %q in %s", s.Name, e.Name())
		}
		scripts[s.Name] = s
	}
	if len(scripts) == 0 {
		return nil, errors.New("no scripts found")
	}
	return scripts, nil
}

func validateScript(s *Script) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Frames) == 0 {
		return errors.New("frames list is required and must be non-empty")
	}
	if s.ChunkSize < 0 {
		return errors.New("chunk_size must not be negative")
	}
	for i, f := range s.Frames {
		switch {
		case f.Raw != "" && (f.Event != "" || f.Content != "" || f.Data != nil || f.Sequence != nil):
			return fmt.Errorf("frames[%d]: raw excludes every other field", i)
		case f.Raw == "" && f.Event == "":
			return fmt.Errorf("frames[%d]: event or raw is required", i)
		case f.Content != "" && f.Data != nil:
			return fmt.Errorf("frames[%d]: content and data are exclusive", i)
		}
	}
	return nil
}
