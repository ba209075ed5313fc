package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/forgeward/kernel/pkg/canonical"
	"github.com/forgeward/kernel/pkg/kernelerr"
)

// ArtifactPath returns the deterministic relative path for a stream event:
// audit/streams/<stream_id>/<sequence>.audit.json.
func ArtifactPath(streamID string, sequence int64) (string, error) {
	if streamID == "" {
		return "", errInvalid("stream_id")
	}
	if sequence < 0 {
		return "", errInvalid("sequence")
	}
	return filepath.Join("audit", "streams", streamID, fmt.Sprintf("%d.audit.json", sequence)), nil
}

type artifact struct {
	Event     eventPayload `json:"event"`
	EventHash string       `json:"event_hash"`
	WrittenBy string       `json:"written_by"`
	Version   int          `json:"version"`
}

type eventPayload struct {
	EventID            string         `json:"event_id"`
	EventType          string         `json:"event_type"`
	PolicyHash         string         `json:"policy_hash"`
	RequestFingerprint string         `json:"request_fingerprint"`
	Sequence           int64          `json:"sequence"`
	StreamID           string         `json:"stream_id"`
	PrevEventHash      string         `json:"prev_event_hash"`
	Payload            map[string]any `json:"payload"`
}

// ArtifactBytes renders the canonical-JSON artifact bytes for a single
// event: {event, event_hash, written_by, version:1}.
func ArtifactBytes(e Event, writtenBy string) ([]byte, error) {
	if writtenBy == "" {
		return nil, errInvalid("written_by")
	}
	hash, err := Fingerprint(e)
	if err != nil {
		return nil, err
	}
	art := map[string]any{
		"event": map[string]any{
			"event_id":            e.EventID,
			"event_type":          string(e.EventType),
			"policy_hash":         e.PolicyHash,
			"request_fingerprint": e.RequestFingerprint,
			"sequence":            e.Sequence,
			"stream_id":           e.StreamID,
			"prev_event_hash":     e.PrevEventHash,
			"payload":             e.Payload,
		},
		"event_hash": hash,
		"written_by": writtenBy,
		"version":    1,
	}
	return canonical.Bytes(art, false)
}

// ArtifactWriter writes a single audit event to durable storage.
type ArtifactWriter interface {
	WriteEvent(e Event) (relPath string, err error)
}

// RepoWriter writes audit artifacts into a repository-rooted directory
// tree. Every write is an exclusive create: writing to a path that already
// exists is a kill-switch (audit_append_violation), matching the
// write-once invariant of an append-only stream.
type RepoWriter struct {
	RepoRoot string
}

// WriteEvent implements ArtifactWriter.
func (w RepoWriter) WriteEvent(e Event) (string, error) {
	relPath, err := ArtifactPath(e.StreamID, e.Sequence)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(w.RepoRoot, relPath)

	if _, err := os.Stat(fullPath); err == nil {
		return "", kernelerr.New(kernelerr.ClassChainIntegrity,
			"secure_layer.killswitch.audit_append_violation",
			"audit artifact path already exists", map[string]any{"path": relPath})
	}

	body, err := ArtifactBytes(e, "supervisor")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o700); err != nil {
		return "", fmt.Errorf("audit: create stream directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return "", kernelerr.New(kernelerr.ClassChainIntegrity,
				"secure_layer.killswitch.audit_append_violation",
				"audit artifact path already exists", map[string]any{"path": relPath})
		}
		return "", fmt.Errorf("audit: open artifact file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(body); err != nil {
		return "", fmt.Errorf("audit: write artifact: %w", err)
	}
	return relPath, nil
}

// LoadStreamFromRepo reads every artifact under
// <repoRoot>/audit/streams/<streamID>, requiring contiguous sequences
// starting at 0, and recomputes each event's hash against the stored
// event_hash. Any mismatch is a hard (chain-integrity) error.
func LoadStreamFromRepo(repoRoot, streamID string) ([]Event, error) {
	if streamID == "" {
		return nil, errInvalid("stream_id")
	}
	streamDir := filepath.Join(repoRoot, "audit", "streams", streamID)
	info, err := os.Stat(streamDir)
	if err != nil || !info.IsDir() {
		return nil, errInvalid("stream_missing")
	}

	entries, err := os.ReadDir(streamDir)
	if err != nil {
		return nil, fmt.Errorf("audit: read stream directory: %w", err)
	}

	type seqFile struct {
		seq  int64
		name string
	}
	var files []seqFile
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".audit.json") {
			continue
		}
		seqStr := strings.TrimSuffix(ent.Name(), ".audit.json")
		seq, err := strconv.ParseInt(seqStr, 10, 64)
		if err != nil || seq < 0 {
			return nil, errInvalid("sequence_file")
		}
		files = append(files, seqFile{seq: seq, name: ent.Name()})
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })

	expected := int64(0)
	events := make([]Event, 0, len(files))
	for _, f := range files {
		if f.seq != expected {
			return nil, errChain("missing_sequence")
		}
		expected++

		raw, err := os.ReadFile(filepath.Join(streamDir, f.name))
		if err != nil {
			return nil, fmt.Errorf("audit: read artifact: %w", err)
		}
		var art artifact
		if err := json.Unmarshal(raw, &art); err != nil {
			return nil, errInvalid("event_payload")
		}
		e := Event{
			EventID:            art.Event.EventID,
			EventType:          EventType(art.Event.EventType),
			PolicyHash:         art.Event.PolicyHash,
			RequestFingerprint: art.Event.RequestFingerprint,
			Sequence:           art.Event.Sequence,
			StreamID:           art.Event.StreamID,
			PrevEventHash:      art.Event.PrevEventHash,
			Payload:            art.Event.Payload,
		}
		computed, err := Fingerprint(e)
		if err != nil {
			return nil, err
		}
		if art.EventHash != computed {
			return nil, errChain("event_hash_mismatch")
		}
		events = append(events, e)
	}
	return events, nil
}

// VerifyStreamFromRepo composes LoadStreamFromRepo and ValidateStream.
func VerifyStreamFromRepo(repoRoot, streamID string) error {
	events, err := LoadStreamFromRepo(repoRoot, streamID)
	if err != nil {
		return err
	}
	return ValidateStream(events)
}
