package models

// StageKey identifies one unit of image transformation in a pipeline.
type StageKey string

const (
	StageCrop           StageKey = "crop"
	StageInpaint        StageKey = "inpaint"
	StageSpotRemoval    StageKey = "spot_removal"
	StageScratchRemoval StageKey = "scratch_removal"
	StageFaceRestore    StageKey = "face_restore"
	StageColorize       StageKey = "colorize"
	StageUpscale        StageKey = "upscale"
	StageOnlineRestore  StageKey = "online_restore"
)

// ModelInfo describes one selectable model variant of a stage.
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StageInfo is the public view of a stage definition, as returned by
// GET /steps. Argument builders and lifecycle hooks are not exposed.
type StageInfo struct {
	Name         string               `json:"name"`
	Manual       bool                 `json:"manual"`
	Models       map[string]ModelInfo `json:"models,omitempty"`
	DefaultModel string               `json:"defaultModel,omitempty"`
}
