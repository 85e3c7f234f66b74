package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/steven-mosley/idleverse/internal/game/character"
)

//go:embed schemas/inbound.schema.json
var inboundSchemaJSON []byte

const inboundSchemaURL = "https://idleverse.dev/schemas/inbound.schema.json"

// MaxFrameBytes bounds a single inbound frame.
const MaxFrameBytes = 4096

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func inboundSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(inboundSchemaURL, bytes.NewReader(inboundSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("adding inbound schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(inboundSchemaURL)
	})
	return schema, schemaErr
}

// PlayerUpdate is a movement or gathering intent.
type PlayerUpdate struct {
	State          character.State `json:"state"`
	TargetResource *int64          `json:"targetResource"`
}

// GatherResource is a direct harvest intent.
type GatherResource struct {
	ResourceID int64   `json:"resourceId"`
	Amount     float64 `json:"amount"`
}

// Inbound is a decoded client frame. Exactly the payload field matching Type is set.
type Inbound struct {
	Type   string
	Update *PlayerUpdate
	Gather *GatherResource
	// Text carries chatMessage and changeName payloads.
	Text string
}

// Decode parses and validates one client frame.
//
// Postcondition: Returns a fully populated Inbound, or an error wrapping ErrValidation.
func Decode(b []byte) (Inbound, error) {
	if len(b) > MaxFrameBytes {
		return Inbound{}, fmt.Errorf("%w: frame of %d bytes", ErrValidation, len(b))
	}
	s, err := inboundSchema()
	if err != nil {
		return Inbound{}, err
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.Validate(doc); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	in := Inbound{Type: env.Type}
	switch env.Type {
	case TypePlayerUpdate:
		in.Update = &PlayerUpdate{}
		err = json.Unmarshal(env.Data, in.Update)
	case TypeGatherResource:
		in.Gather = &GatherResource{}
		err = json.Unmarshal(env.Data, in.Gather)
	case TypeChatMessage, TypeChangeName:
		err = json.Unmarshal(env.Data, &in.Text)
	}
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %s payload: %v", ErrValidation, env.Type, err)
	}
	return in, nil
}
