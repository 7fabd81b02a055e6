// Package replayinspect loads recorded match bundles for offline analysis:
// the manifest, the event timeline, and the per-tick state frames.
package replayinspect

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"paddlearena/engine/internal/replay"
)

// Event is a single lifecycle event decoded from the JSONL log.
type Event struct {
	Tick       uint64
	CapturedAt time.Time
	Type       string
	Payload    json.RawMessage
}

// Frame is a single state snapshot decoded from the binary frame stream.
type Frame struct {
	Tick       uint64
	CapturedAt time.Time
	Payload    []byte
}

// LoadBundle reads the manifest, events, and frames from a bundle directory
// or a direct manifest.json path.
func LoadBundle(path string) (replay.Manifest, []Event, []Frame, error) {
	if path == "" {
		return replay.Manifest{}, nil, nil, fmt.Errorf("path is required")
	}

	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return replay.Manifest{}, nil, nil, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, "manifest.json")
	}
	manifestDir := filepath.Dir(manifestPath)

	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return replay.Manifest{}, nil, nil, err
	}
	var manifest replay.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return replay.Manifest{}, nil, nil, err
	}
	if manifest.Version != 1 {
		return replay.Manifest{}, nil, nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	events, err := loadEvents(filepath.Join(manifestDir, manifest.EventsPath))
	if err != nil {
		return replay.Manifest{}, nil, nil, err
	}
	frames, err := loadFrames(filepath.Join(manifestDir, manifest.FramesPath))
	if err != nil {
		return replay.Manifest{}, nil, nil, err
	}
	return manifest, events, frames, nil
}

// ListBundles returns the bundle directories under root, newest last.
func ListBundles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var bundles []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest := filepath.Join(root, entry.Name(), "manifest.json")
		if _, err := os.Stat(manifest); err == nil {
			bundles = append(bundles, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(bundles)
	return bundles, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw struct {
			Tick       uint64          `json:"tick"`
			CapturedAt string          `json:"captured_at"`
			Type       string          `json:"type"`
			Payload    json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Tick:       raw.Tick,
			CapturedAt: captured,
			Type:       raw.Type,
			Payload:    raw.Payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	offset := 0
	for offset+20 <= len(payload) {
		//1.- Read the fixed header then hydrate the payload bytes.
		tick := binary.LittleEndian.Uint64(payload[offset : offset+8])
		offset += 8
		captured := int64(binary.LittleEndian.Uint64(payload[offset : offset+8]))
		offset += 8
		size := int(binary.LittleEndian.Uint32(payload[offset : offset+4]))
		offset += 4
		if size < 0 || offset+size > len(payload) {
			return nil, fmt.Errorf("frame payload truncated")
		}
		blob := append([]byte(nil), payload[offset:offset+size]...)
		offset += size
		frames = append(frames, Frame{
			Tick:       tick,
			CapturedAt: time.Unix(0, captured).UTC(),
			Payload:    blob,
		})
	}
	return frames, nil
}
