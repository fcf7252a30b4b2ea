// Package router aggregates the outputs of completed upstream nodes into the input
// of a target node.
package router

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"dario.cat/mergo"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

var ErrConversionFailed = errors.New("conversion function failed")

// Input is the routed input of a node: merged MAIN data plus one slot per AI_* type.
type Input struct {
	Main        map[string]any
	Attachments map[models.ConnectionType][]protocol.Attachment
}

// Router routes completed outputs along incoming edges.
type Router struct {
	converter *Converter
}

func New(conversionTimeout time.Duration) *Router {
	return &Router{converter: NewConverter(conversionTimeout)}
}

// Route builds the input of a node from its incoming edges. outputs holds the output
// of every completed source node; edges whose source has no output contribute
// nothing to MAIN and an empty attachment slot entry.
//
// MAIN payloads are deep-merged. On a key conflict the edge with the lower index
// wins, then the lower source node id.
func (r *Router) Route(incoming []*models.Connection, outputs map[string]map[string]any) (*Input, error) {
	input := &Input{
		Main:        map[string]any{},
		Attachments: make(map[models.ConnectionType][]protocol.Attachment),
	}

	main := make([]*models.Connection, 0, len(incoming))

	for _, conn := range incoming {
		if conn.EdgeType() == models.ConnectionTypeMain {
			main = append(main, conn)

			continue
		}

		var data map[string]any

		if output, ok := outputs[conn.FromNode]; ok {
			payload, err := r.payload(conn, output)
			if err != nil {
				return nil, err
			}

			data = payload
		}

		input.Attachments[conn.EdgeType()] = append(input.Attachments[conn.EdgeType()], protocol.Attachment{
			FromNode: conn.FromNode,
			Index:    conn.Index,
			Data:     data,
		})
	}

	for connectionType := range input.Attachments {
		slot := input.Attachments[connectionType]
		sort.SliceStable(slot, func(i, j int) bool {
			if slot[i].Index != slot[j].Index {
				return slot[i].Index < slot[j].Index
			}

			return slot[i].FromNode < slot[j].FromNode
		})
	}

	SortByPrecedence(main)

	// Applied from the weakest edge to the strongest so the strongest overrides last.
	for i := len(main) - 1; i >= 0; i-- {
		conn := main[i]

		output, ok := outputs[conn.FromNode]
		if !ok {
			continue
		}

		payload, err := r.payload(conn, output)
		if err != nil {
			return nil, err
		}

		err = mergo.Merge(&input.Main, payload, mergo.WithOverride)
		if err != nil {
			return nil, fmt.Errorf("merge output of %s: %w", conn.FromNode, err)
		}
	}

	return input, nil
}

// SortByPrecedence orders edges by ascending index, then by source node id.
func SortByPrecedence(connections []*models.Connection) {
	sort.SliceStable(connections, func(i, j int) bool {
		if connections[i].Index != connections[j].Index {
			return connections[i].Index < connections[j].Index
		}

		return connections[i].FromNode < connections[j].FromNode
	})
}

// payload selects the part of a source output an edge carries and applies the
// edge conversion function. The result never aliases the source output.
func (r *Router) payload(conn *models.Connection, output map[string]any) (map[string]any, error) {
	data := models.CloneMap(output)

	if key := conn.Key(); key != models.DefaultOutputKey {
		if sub, ok := data[key].(map[string]any); ok {
			data = sub
		}
	}

	if data == nil {
		data = map[string]any{}
	}

	if conn.ConversionFunction == "" {
		return data, nil
	}

	converted, err := r.converter.Convert(conn.ConversionFunction, data)
	if err != nil {
		return nil, fmt.Errorf("%w: edge %s -> %s: %v", ErrConversionFailed, conn.FromNode, conn.ToNode, err)
	}

	return converted, nil
}
