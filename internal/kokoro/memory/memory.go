package memory

import (
	"fmt"
	"maps"
	"time"
)

// Memory kinds written by Kokoro itself.
const (
	KindInbound = "inbound"
	KindOutcome = "outcome"
	KindThought = "thought"
)

// Flat metadata keys used in the store representation.
const (
	keyMemoryID   = "memoryId"
	keyTimestamp  = "timestamp"
	keyPlatform   = "platform"
	keyPlatformID = "platformId"
	keySourceID   = "sourceId"
	keyProcessed  = "processed"
	keyAuthor     = "author"
	keyKind       = "kind"
)

// Memory is one timestamped content item in a conversation's log. Content
// and Timestamp never change once persisted; only Metadata.Processed is
// amended afterwards.
type Memory struct {
	ID             string
	ConversationID string
	Content        string
	Timestamp      time.Time
	Metadata       Metadata
}

// Metadata is the provenance attached to a memory. Known fields are typed;
// anything else travels in Extra.
type Metadata struct {
	SourceID   string // external content id, used for idempotency
	Processed  bool
	Author     string
	Kind       string
	Platform   string
	PlatformID string

	Extra map[string]any
}

// ToMap flattens the metadata for the store. Typed fields win over Extra
// entries with the same key.
func (m Metadata) ToMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+6)
	maps.Copy(out, m.Extra)

	setString := func(key, v string) {
		if v != "" {
			out[key] = v
		}
	}
	setString(keySourceID, m.SourceID)
	setString(keyAuthor, m.Author)
	setString(keyKind, m.Kind)
	setString(keyPlatform, m.Platform)
	setString(keyPlatformID, m.PlatformID)
	if m.Processed {
		out[keyProcessed] = true
	}
	return out
}

// metadataFromMap is the inverse of ToMap. The memoryId and timestamp keys
// belong to the Memory itself and are not copied into Extra.
func metadataFromMap(in map[string]any) Metadata {
	var md Metadata
	for k, v := range in {
		switch k {
		case keyMemoryID, keyTimestamp:
		case keySourceID:
			md.SourceID = stringValue(v)
		case keyAuthor:
			md.Author = stringValue(v)
		case keyKind:
			md.Kind = stringValue(v)
		case keyPlatform:
			md.Platform = stringValue(v)
		case keyPlatformID:
			md.PlatformID = stringValue(v)
		case keyProcessed:
			switch p := v.(type) {
			case bool:
				md.Processed = p
			case string:
				md.Processed = p == "true"
			}
		default:
			if md.Extra == nil {
				md.Extra = make(map[string]any)
			}
			md.Extra[k] = v
		}
	}
	return md
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// record converts the memory to its store form, stamping the id and the
// canonical timestamp into the metadata.
func (m Memory) record() Record {
	md := m.Metadata.ToMap()
	md[keyMemoryID] = m.ID
	md[keyTimestamp] = m.Timestamp.UTC().Format(time.RFC3339Nano)
	return Record{Content: m.Content, Metadata: md}
}

// memoryFromRecord rebuilds a Memory read back from the store.
func memoryFromRecord(conversationID string, rec Record) (Memory, error) {
	id, _ := rec.Metadata[keyMemoryID].(string)
	if id == "" {
		return Memory{}, fmt.Errorf("record has no %s", keyMemoryID)
	}
	raw, _ := rec.Metadata[keyTimestamp].(string)
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Memory{}, fmt.Errorf("record %s: parse timestamp: %w", id, err)
	}
	return Memory{
		ID:             id,
		ConversationID: conversationID,
		Content:        rec.Content,
		Timestamp:      ts,
		Metadata:       metadataFromMap(rec.Metadata),
	}, nil
}
