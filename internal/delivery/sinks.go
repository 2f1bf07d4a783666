package delivery

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/chatstream/internal/render"
	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
)

// LogSink logs each delivered message as one structured record.
func LogSink(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(key types.SessionKey, msg *chatstream.Message) error {
		logger.Info("probe reply",
			"session_key", string(key),
			"message_id", msg.ID,
			"status", string(msg.Status),
			"text", msg.Text(),
		)
		return nil
	}
}

// FileSink writes the rendered message to dir/<name>.md, where name is the
// part of the session key after prefix. Each delivery replaces the file.
func FileSink(dir, prefix string) Handler {
	return func(key types.SessionKey, msg *chatstream.Message) error {
		name := strings.TrimPrefix(string(key), prefix)
		if err := validateName(name); err != nil {
			return err
		}

		var buf bytes.Buffer
		if err := render.Write(&buf, msg); err != nil {
			return err
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create delivery dir: %w", err)
		}
		path := filepath.Join(dir, name+".md")
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write delivery file: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("rename delivery file: %w", err)
		}
		return nil
	}
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid delivery name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("delivery name %q must not contain a path separator", name)
	}
	return nil
}
