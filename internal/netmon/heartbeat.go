// Package netmon keeps the latest pipeline snapshot announced by every peer
// node and serves it to the coordination loop as the workload registry.
package netmon

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
)

// Heartbeat field names
const (
	FieldNodeAddress  = "node_addr"
	FieldPipelines    = "pipelines"
	FieldDeeploySpecs = "deeploy_specs"
	FieldTimestamp    = "timestamp"
)

// Heartbeat is one node's announcement of the pipelines it runs
type Heartbeat struct {
	NodeAddress string
	Pipelines   map[string]oracle.Pipeline
	Timestamp   time.Time
}

// ParseHeartbeat decodes a heartbeat struct. A missing timestamp is left zero.
func ParseHeartbeat(s *structpb.Struct) (Heartbeat, error) {
	if s == nil {
		return Heartbeat{}, errors.New(errors.ErrorTypeValidation, "parse_heartbeat", "empty heartbeat")
	}
	fields := s.AsMap()

	node, err := cast.ToStringE(fields[FieldNodeAddress])
	if err != nil || node == "" {
		return Heartbeat{}, errors.New(errors.ErrorTypeValidation, "parse_heartbeat", "missing node address")
	}

	hb := Heartbeat{
		NodeAddress: node,
		Pipelines:   make(map[string]oracle.Pipeline),
	}

	if raw, ok := fields[FieldTimestamp]; ok && raw != nil {
		sec, err := cast.ToFloat64E(raw)
		if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) {
			return Heartbeat{}, errors.New(errors.ErrorTypeValidation, "parse_heartbeat", "invalid timestamp").
				WithContext("node_address", node)
		}
		whole, frac := math.Modf(sec)
		hb.Timestamp = time.Unix(int64(whole), int64(frac*1e9))
	}

	if raw, ok := fields[FieldPipelines]; ok && raw != nil {
		pipelines, err := cast.ToStringMapE(raw)
		if err != nil {
			return Heartbeat{}, errors.Wrap(err, errors.ErrorTypeValidation, "parse_heartbeat", "invalid pipelines").
				WithContext("node_address", node)
		}
		for name, p := range pipelines {
			pipeline, err := cast.ToStringMapE(p)
			if err != nil {
				return Heartbeat{}, errors.Wrap(err, errors.ErrorTypeValidation, "parse_heartbeat",
					fmt.Sprintf("invalid pipeline %s", name)).
					WithContext("node_address", node)
			}
			specs, _ := cast.ToStringMapE(pipeline[FieldDeeploySpecs])
			hb.Pipelines[name] = oracle.Pipeline{DeeploySpecs: specs}
		}
	}

	return hb, nil
}

// EncodeHeartbeat builds the wire form of hb
func EncodeHeartbeat(hb Heartbeat) (*structpb.Struct, error) {
	pipelines := make(map[string]any, len(hb.Pipelines))
	for name, p := range hb.Pipelines {
		entry := map[string]any{}
		if p.DeeploySpecs != nil {
			entry[FieldDeeploySpecs] = p.DeeploySpecs
		}
		pipelines[name] = entry
	}

	fields := map[string]any{
		FieldNodeAddress: hb.NodeAddress,
		FieldPipelines:   pipelines,
	}
	if !hb.Timestamp.IsZero() {
		fields[FieldTimestamp] = float64(hb.Timestamp.UnixNano()) / 1e9
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "encode_heartbeat", "failed to encode heartbeat")
	}
	return s, nil
}
