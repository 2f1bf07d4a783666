// Package render writes a reconstructed message as terminal text.
package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/chatstream/pkg/chatstream"
)

// NoStepData is printed for a step block whose step is absent.
const NoStepData = "(no step data)"

// Write renders msg to w. Text blocks are written as-is, step blocks as
// "[status] label" lines with their details indented beneath. HTML details
// are converted to markdown.
func Write(w io.Writer, msg *chatstream.Message) error {
	bw := bufio.NewWriter(w)
	for i, b := range msg.Blocks {
		switch b.Type {
		case chatstream.BlockText:
			bw.WriteString(b.Content)
			if !strings.HasSuffix(b.Content, "\n") {
				bw.WriteByte('\n')
			}
		case chatstream.BlockStep:
			step, ok := msg.StepFor(b)
			if !ok {
				fmt.Fprintf(bw, "  %s\n", NoStepData)
				continue
			}
			fmt.Fprintf(bw, "  [%s] %s\n", step.Status, label(step, b))
			if step.Details != "" {
				details, err := Details(step.Details)
				if err != nil {
					return fmt.Errorf("render step %s details: %w", step.ID, err)
				}
				for _, line := range strings.Split(details, "\n") {
					fmt.Fprintf(bw, "      %s\n", line)
				}
			}
		default:
			return fmt.Errorf("render block %d: unknown type %q", i, b.Type)
		}
	}
	if msg.Status == chatstream.StatusFailed {
		bw.WriteString("(stream interrupted)\n")
	}
	return bw.Flush()
}

// String renders msg to a string.
func String(msg *chatstream.Message) (string, error) {
	var b strings.Builder
	if err := Write(&b, msg); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Details converts step details to markdown when they contain HTML and
// returns plain text unchanged.
func Details(details string) (string, error) {
	if !looksLikeHTML(details) {
		return strings.TrimSpace(details), nil
	}
	md, err := htmltomarkdown.ConvertString(details)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func label(step chatstream.Step, b chatstream.Block) string {
	if step.Content != "" {
		return step.Content
	}
	if b.Content != "" {
		return b.Content
	}
	return step.ID
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}
