package httpapi

import "github.com/vladislavdragonenkov/pos/internal/transport/wire"

type envelope struct {
	Success bool        `json:"success"`
	Order   *wire.Order `json:"order,omitempty"`
	Message string      `json:"message,omitempty"`
}

type listEnvelope struct {
	Success bool         `json:"success"`
	Orders  []wire.Order `json:"orders"`
}

type clearEnvelope struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

type statsEnvelope struct {
	Success bool       `json:"success"`
	Stats   wire.Stats `json:"stats"`
}
