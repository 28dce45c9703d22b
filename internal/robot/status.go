package robot

// Status is the read-only snapshot the presentation layer and get_status
// observe. All fields are copies; mutating a Status affects nothing.
type Status struct {
	ArduinoConnected    bool   `json:"arduino_connected"`
	FlirConnected       bool   `json:"flir_connected"`
	Mapping             bool   `json:"mapping"`
	Wander              bool   `json:"wander"`
	Explore             bool   `json:"explore"`
	Recording           bool   `json:"recording"`
	Uploading           bool   `json:"uploading"`
	ExplorationComplete bool   `json:"exploration_complete"`
	FirmwareVersion     string `json:"fw_version"`
	MapCells            int    `json:"map_cells"`
	Updates             int    `json:"updates"`
	Rejected            int    `json:"rejected"`
	Corrections         int    `json:"corrections"`
	Rebases             int    `json:"rebases"`
}

// Status assembles a point-in-time snapshot.
func (rt *Runtime) Status() Status {
	updates, rejected, corrections, rebases := rt.mapper.Counters()

	rt.mu.Lock()
	s := Status{
		FlirConnected: rt.flirConnected,
		Mapping:       rt.mappingOn,
		Wander:        rt.wanderCancel != nil,
		Explore:       rt.exploreCancel != nil,
		Uploading:     rt.uploading,
	}
	if rt.explore != nil {
		s.ExplorationComplete = rt.explore.Complete()
	}
	rt.mu.Unlock()

	s.ArduinoConnected = rt.bridge.Connected()
	s.Recording = rt.rec.Active()
	s.FirmwareVersion = rt.bridge.FirmwareVersion()
	s.MapCells = rt.mapper.Grid().Size()
	s.Updates = updates
	s.Rejected = rejected
	s.Corrections = corrections
	s.Rebases = rebases
	return s
}

// asMap renders the status for inclusion in a command reply.
func (s Status) asMap() map[string]any {
	return map[string]any{
		"arduino_connected":    s.ArduinoConnected,
		"flir_connected":       s.FlirConnected,
		"mapping":              s.Mapping,
		"wander":               s.Wander,
		"explore":              s.Explore,
		"recording":            s.Recording,
		"uploading":            s.Uploading,
		"exploration_complete": s.ExplorationComplete,
		"fw_version":           s.FirmwareVersion,
		"map_cells":            s.MapCells,
		"updates":              s.Updates,
		"rejected":             s.Rejected,
		"corrections":          s.Corrections,
		"rebases":              s.Rebases,
	}
}
