package store

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"

	"github.com/balkashynov/proctor/internal/models"
)

const (
	tableFormat  = "proctor/sessions"
	tableVersion = 1
)

//go:embed sessions.schema.json
var tableSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

type envelope struct {
	Format   string          `json:"format"`
	Version  int             `json:"version"`
	Digest   string          `json:"digest"`
	Sessions json.RawMessage `json:"sessions"`
}

func tableSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		schema, schemaErr = compiler.Compile(tableSchemaJSON)
	})
	return schema, schemaErr
}

// digest is the sha256 of the RFC 8785 canonical form of raw
func digest(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// encodeSessions serializes the records into a versioned, digested envelope
func encodeSessions(sessions map[string]*models.SessionRecord) ([]byte, error) {
	if sessions == nil {
		sessions = map[string]*models.SessionRecord{}
	}
	raw, err := json.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("marshal sessions: %w", err)
	}
	sum, err := digest(raw)
	if err != nil {
		return nil, fmt.Errorf("digest sessions: %w", err)
	}
	return json.Marshal(envelope{
		Format:   tableFormat,
		Version:  tableVersion,
		Digest:   sum,
		Sessions: raw,
	})
}

// decodeSessions validates and decodes a stored envelope. Every failure
// wraps ErrCorrupt so callers can apply their recovery policy.
func decodeSessions(data []byte) (map[string]*models.SessionRecord, error) {
	if len(data) == 0 {
		return map[string]*models.SessionRecord{}, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrCorrupt)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Format == tableFormat && env.Version > tableVersion {
		return nil, fmt.Errorf("%w: unsupported table version %d", ErrCorrupt, env.Version)
	}

	sch, err := tableSchema()
	if err != nil {
		return nil, fmt.Errorf("compile table schema: %w", err)
	}
	if result := sch.ValidateJSON(data); !result.IsValid() {
		return nil, fmt.Errorf("%w: schema validation failed: %v", ErrCorrupt, result.Errors)
	}

	sum, err := digest(env.Sessions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sum != env.Digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	sessions := map[string]*models.SessionRecord{}
	if err := json.Unmarshal(env.Sessions, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for key, rec := range sessions {
		if rec == nil || rec.StudentKey != key {
			return nil, fmt.Errorf("%w: record %q stored under wrong key", ErrCorrupt, key)
		}
		if !rec.IsActive && rec.EndTime == nil {
			return nil, fmt.Errorf("%w: record %q inactive without end time", ErrCorrupt, key)
		}
	}
	return sessions, nil
}
