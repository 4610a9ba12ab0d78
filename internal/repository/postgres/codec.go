package postgres

import (
	"encoding/json"
	"time"

	"github.com/and161185/profilesync/internal/repository"
)

// timeKey tags timestamps in stored JSON so they decode back to time.Time.
const timeKey = "$time"

func encodeDocument(doc repository.Document) (string, error) {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if t, ok := v.(time.Time); ok {
			out[k] = map[string]string{timeKey: t.UTC().Format(time.RFC3339Nano)}
			continue
		}
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDocument(raw []byte) (repository.Document, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	doc := make(repository.Document, len(m))
	for k, v := range m {
		doc[k] = decodeValue(v)
	}
	return doc, nil
}

func decodeValue(v any) any {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) != 1 {
		return v
	}
	s, ok := obj[timeKey].(string)
	if !ok {
		return v
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return v
	}
	return t.UTC()
}
