package entities

// SpectralData is the ledger's nested view of a reading's spectrum.
type SpectralData struct {
	SpectralValid bool  `json:"spectral_valid"`
	Ch0           int64 `json:"ch0"`
	Ch1           int64 `json:"ch1"`
	Ch2           int64 `json:"ch2"`
	Ch3           int64 `json:"ch3"`
	Ch4           int64 `json:"ch4"`
	Ch5           int64 `json:"ch5"`
	Ch6           int64 `json:"ch6"`
	Ch7           int64 `json:"ch7"`
	Ch8           int64 `json:"ch8"`
	Ch9           int64 `json:"ch9"`
	Ch10          int64 `json:"ch10"`
}

// ArchivedChunk is one reading as stored on the external append-only ledger,
// keyed there by device id and record id.
type ArchivedChunk struct {
	ID              int64        `json:"id"`
	Timestamp       string       `json:"timestamp"`
	Temperature     string       `json:"temperature"`
	Humidity        string       `json:"humidity"`
	MoistureContent string       `json:"moisture_content"`
	SpectralData    SpectralData `json:"spectral_data"`
}

// ChunkFromReading converts a stored reading to its ledger form. Absent text
// fields become "" and an absent spectrum becomes all zeros.
func ChunkFromReading(r SensorReading) ArchivedChunk {
	c := ArchivedChunk{
		ID:              r.ID,
		Timestamp:       r.Timestamp,
		Temperature:     deref(r.Temperature),
		Humidity:        deref(r.Humidity),
		MoistureContent: deref(r.MoistureContent),
		SpectralData:    SpectralData{SpectralValid: r.SpectralValid},
	}
	if s := r.Spectrum; s != nil {
		sd := &c.SpectralData
		sd.Ch0, sd.Ch1, sd.Ch2, sd.Ch3 = s[0], s[1], s[2], s[3]
		sd.Ch4, sd.Ch5, sd.Ch6, sd.Ch7 = s[4], s[5], s[6], s[7]
		sd.Ch8, sd.Ch9, sd.Ch10 = s[8], s[9], s[10]
	}
	return c
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
