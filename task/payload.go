package task

// Payload shapes for the five operation kinds. These exist so upstream.Client
// implementations and the worker's dispatch share one definition of what
// each kind requires; httpapi batch validation checks only the kind, and
// Task itself keeps the payload opaque (json.RawMessage).

type CreateNodePayload struct {
	NodeID string         `json:"node_id"`
	Data   map[string]any `json:"data"`
}

type UpdateCardPayload struct {
	CardID  string         `json:"card_id"`
	Payload map[string]any `json:"payload"`
}

type CreateShapePayload struct {
	BoardID string         `json:"board_id"`
	ShapeID string         `json:"shape_id"`
	Data    map[string]any `json:"data"`
}

type UpdateShapePayload struct {
	BoardID string         `json:"board_id"`
	ShapeID string         `json:"shape_id"`
	Data    map[string]any `json:"data"`
}

type DeleteShapePayload struct {
	BoardID string `json:"board_id"`
	ShapeID string `json:"shape_id"`
}
