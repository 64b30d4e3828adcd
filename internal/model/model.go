package model

import (
	"github.com/afladry360/telemetry/internal/model/entities"
	"github.com/afladry360/telemetry/internal/model/messages"
)

// Aliases exposing the common types to the services.

type (
	SensorReading = entities.SensorReading
	Spectrum      = entities.Spectrum
	ArchivedChunk = entities.ArchivedChunk
	SpectralData  = entities.SpectralData
	StatusMessage = messages.StatusMessage
)

const (
	ChannelCount  = entities.ChannelCount
	HeartbeatType = messages.HeartbeatType
)

var (
	ChunkFromReading = entities.ChunkFromReading
	StringPtr        = entities.StringPtr
)
