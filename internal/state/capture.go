// internal/state/capture.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
	"github.com/user/chatstream/pkg/sse"
)

// CaptureStore is a JSONL-backed append-only log of raw wire events.
// Events are stored per message in captures/<messageID>.jsonl, in arrival
// order. Only wire events are kept, never the reconstructed message.
type CaptureStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.MessageID]*sync.Mutex
}

// NewCaptureStore creates a new file-backed CaptureStore rooted at the given directory.
func NewCaptureStore(root string) *CaptureStore {
	return &CaptureStore{
		root:  root,
		locks: make(map[types.MessageID]*sync.Mutex),
	}
}

// getLock returns the per-message mutex, creating one if it doesn't exist.
func (c *CaptureStore) getLock(id types.MessageID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lock, ok := c.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	c.locks[id] = lock
	return lock
}

func (c *CaptureStore) dir() string {
	return filepath.Join(c.root, "captures")
}

func (c *CaptureStore) capturePath(id types.MessageID) string {
	return filepath.Join(c.dir(), string(id)+".jsonl")
}

// count reads the capture file and counts lines. Caller must hold the message lock.
func (c *CaptureStore) count(id types.MessageID) (int64, error) {
	f, err := os.Open(c.capturePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan capture file: %w", err)
	}
	return count, nil
}

// Append adds an event to the message's capture with an auto-incremented arrival index.
func (c *CaptureStore) Append(_ context.Context, event *types.CapturedEvent) error {
	if !types.ValidMessageID(event.MessageID) {
		return fmt.Errorf("invalid message ID: %q", event.MessageID)
	}

	lock := c.getLock(event.MessageID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(c.dir(), 0o755); err != nil {
		return fmt.Errorf("create captures dir: %w", err)
	}

	existing, err := c.count(event.MessageID)
	if err != nil {
		return err
	}
	event.Index = existing + 1

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(c.capturePath(event.MessageID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// Load returns every captured event for the message in arrival order.
func (c *CaptureStore) Load(_ context.Context, id types.MessageID) ([]*types.CapturedEvent, error) {
	if !types.ValidMessageID(id) {
		return nil, fmt.Errorf("invalid message ID: %q", id)
	}

	lock := c.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(c.capturePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("capture not found: %s", id)
		}
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	var events []*types.CapturedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event types.CapturedEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan capture file: %w", err)
	}

	return events, nil
}

// Count returns the number of captured events for the message.
func (c *CaptureStore) Count(_ context.Context, id types.MessageID) (int64, error) {
	lock := c.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	return c.count(id)
}

// List returns the IDs of all captured messages, sorted.
func (c *CaptureStore) List(_ context.Context) ([]types.MessageID, error) {
	entries, err := os.ReadDir(c.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read captures dir: %w", err)
	}

	var ids []types.MessageID
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".jsonl")
		if !ok || e.IsDir() {
			continue
		}
		ids = append(ids, types.MessageID(name))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Observer returns a chatstream observer that appends every event to the
// capture for id. Write failures are reported to onErr and do not stop the
// stream.
func (c *CaptureStore) Observer(ctx context.Context, id types.MessageID, onErr func(error)) func(chatstream.Event) {
	return func(ev chatstream.Event) {
		err := c.Append(ctx, &types.CapturedEvent{
			MessageID: id,
			Event:     string(ev.Event),
			Sequence:  ev.Sequence,
			Data:      ev.Data,
			Synthetic: ev.Synthetic,
			At:        time.Now(),
		})
		if err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// WriteWire re-encodes captured events as data lines in arrival order.
// Synthetic events are written back as their original raw text.
func WriteWire(w io.Writer, events []*types.CapturedEvent) error {
	bw := bufio.NewWriter(w)
	for _, ev := range events {
		var payload []byte
		if ev.Synthetic {
			var d chatstream.MessageData
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				return fmt.Errorf("decode synthetic event %d: %w", ev.Index, err)
			}
			payload = []byte(d.Content)
		} else {
			var err error
			payload, err = json.Marshal(chatstream.Event{
				Event:    chatstream.EventType(ev.Event),
				Data:     ev.Data,
				Sequence: ev.Sequence,
			})
			if err != nil {
				return fmt.Errorf("encode event %d: %w", ev.Index, err)
			}
		}
		if _, err := fmt.Fprintf(bw, "%s %s\n", sse.DataPrefix, payload); err != nil {
			return fmt.Errorf("write event %d: %w", ev.Index, err)
		}
	}
	return bw.Flush()
}
