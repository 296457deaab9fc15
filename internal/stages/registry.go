// Package stages holds the catalog of pipeline stage definitions. Adding a
// stage is a data edit: the argument builder is the only per-stage code.
package stages

import (
	"os"

	"github.com/bpasse/patine/internal/models"
)

// Definition describes one stage: how to detect a missing manual input, how
// to build the worker command line, and how to release consumed inputs
// after a successful run.
type Definition struct {
	Key    models.StageKey
	Name   string
	Script string // Default worker script, relative to the scripts directory
	Prefix string // Output filename component

	Manual bool // Requires user input before the worker can run

	Models       map[string]models.ModelInfo
	DefaultModel string

	RequiresAPIKey string // Env var that must be non-empty for the stage to be exposed
	Disabled       bool

	// NeedsInput reports whether the manual input for this stage is still
	// missing on the job. Always false for automatic stages.
	NeedsInput func(j *models.Job) bool

	// BuildArgs returns the worker script and argv for one invocation.
	BuildArgs func(input, output string, j *models.Job, model string) (string, []string)

	// OnComplete releases per-stage input consumed by the invocation.
	// remove deletes an artifact file and tolerates absence.
	OnComplete func(j *models.Job, remove func(path string))
}

// Registry is the immutable, process-wide stage catalog.
type Registry struct {
	defs  map[models.StageKey]*Definition
	order []models.StageKey
}

// NewRegistry builds the stage catalog. Argv contracts follow the worker
// scripts under ai/.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[models.StageKey]*Definition)}

	r.add(&Definition{
		Key:    models.StageCrop,
		Name:   "Crop",
		Script: "crop.py",
		Prefix: "crop",
		Manual: true,
		NeedsInput: func(j *models.Job) bool {
			return j.CropRect == ""
		},
		BuildArgs: func(input, output string, j *models.Job, _ string) (string, []string) {
			// The rect string is opaque here; crop.py understands the
			// x,y,w,h / E: / P: shapes.
			return "crop.py", []string{input, output, j.CropRect}
		},
		OnComplete: func(j *models.Job, _ func(string)) {
			j.CropRect = ""
		},
	})

	r.add(&Definition{
		Key:    models.StageInpaint,
		Name:   "Inpaint",
		Script: "inpaint.py",
		Prefix: "inpaint",
		Manual: true,
		NeedsInput: func(j *models.Job) bool {
			return j.MaskPath == ""
		},
		BuildArgs: func(input, output string, j *models.Job, _ string) (string, []string) {
			return "inpaint.py", []string{input, j.MaskPath, output}
		},
		OnComplete: func(j *models.Job, remove func(string)) {
			remove(j.MaskPath)
			j.MaskPath = ""
		},
	})

	r.add(&Definition{
		Key:    models.StageSpotRemoval,
		Name:   "Spot removal",
		Script: "clean_spots.py",
		Prefix: "spots",
		Models: map[string]models.ModelInfo{
			"lama":   {Name: "LaMa", Description: "AI inpainting of detected spots"},
			"opencv": {Name: "OpenCV", Description: "Fast non-AI inpainting"},
		},
		DefaultModel: "lama",
		BuildArgs: func(input, output string, _ *models.Job, model string) (string, []string) {
			return "clean_spots.py", []string{input, output, model}
		},
	})

	r.add(&Definition{
		Key:    models.StageScratchRemoval,
		Name:   "Scratch removal",
		Script: "restore.py",
		Prefix: "scratch",
		BuildArgs: func(input, output string, _ *models.Job, _ string) (string, []string) {
			return "restore.py", []string{input, output}
		},
	})

	r.add(&Definition{
		Key:    models.StageFaceRestore,
		Name:   "Face restoration",
		Script: "face_restore.py",
		Prefix: "face",
		BuildArgs: func(input, output string, _ *models.Job, _ string) (string, []string) {
			return "face_restore.py", []string{input, output}
		},
	})

	r.add(&Definition{
		Key:    models.StageColorize,
		Name:   "Colorize",
		Script: "colorize.py",
		Prefix: "colorize",
		Models: map[string]models.ModelInfo{
			"siggraph17": {Name: "SIGGRAPH 17", Description: "Balanced colors"},
			"eccv16":     {Name: "ECCV 16", Description: "Vivid, less accurate"},
			"ddcolor":    {Name: "DDColor", Description: "Best quality, slow first run"},
			"artistic":   {Name: "DeOldify Artistic", Description: "Vibrant, may hallucinate"},
			"stable":     {Name: "DeOldify Stable", Description: "Conservative, consistent"},
		},
		DefaultModel: "siggraph17",
		BuildArgs:    buildColorizeArgs,
	})

	r.add(&Definition{
		Key:    models.StageUpscale,
		Name:   "Upscale",
		Script: "upscale.py",
		Prefix: "upscale",
		Models: map[string]models.ModelInfo{
			"x4plus":       {Name: "Real-ESRGAN x4plus"},
			"x4plus-anime": {Name: "Real-ESRGAN x4plus anime"},
			"x2plus":       {Name: "Real-ESRGAN x2plus"},
			"ultrasharp":   {Name: "UltraSharp"},
			"ultramix":     {Name: "UltraMix Balanced"},
			"compact":      {Name: "Compact", Description: "Fast, lighter model"},
			"lanczos":      {Name: "Lanczos", Description: "Non-AI resampling"},
		},
		DefaultModel: "x4plus",
		BuildArgs: func(input, output string, _ *models.Job, model string) (string, []string) {
			return "upscale.py", []string{input, output, model, "2"}
		},
	})

	r.add(&Definition{
		Key:            models.StageOnlineRestore,
		Name:           "Online restoration",
		Script:         "restore_openai.py",
		Prefix:         "online",
		RequiresAPIKey: "OPENAI_API_KEY",
		BuildArgs: func(input, output string, _ *models.Job, _ string) (string, []string) {
			return "restore_openai.py", []string{input, output}
		},
	})

	return r
}

// buildColorizeArgs routes model variants to their worker script: the Zhang
// models share colorize.py, DDColor and DeOldify ship as separate scripts.
func buildColorizeArgs(input, output string, _ *models.Job, model string) (string, []string) {
	switch model {
	case "ddcolor":
		return "colorize_ddcolor.py", []string{input, output}
	case "artistic", "stable":
		return "colorize_deoldify.py", []string{input, output, model}
	case "":
		return "colorize.py", []string{input, output, "siggraph17"}
	default:
		return "colorize.py", []string{input, output, model}
	}
}

func (r *Registry) add(d *Definition) {
	r.defs[d.Key] = d
	r.order = append(r.order, d.Key)
}

// Get returns the definition for a stage key.
func (r *Registry) Get(key models.StageKey) (*Definition, bool) {
	d, ok := r.defs[key]
	return d, ok
}

// Known reports whether the key names a registered stage.
func (r *Registry) Known(key models.StageKey) bool {
	_, ok := r.defs[key]
	return ok
}

// IsManual reports whether the key names a registered manual stage.
func (r *Registry) IsManual(key models.StageKey) bool {
	d, ok := r.defs[key]
	return ok && d.Manual
}

// HasModel reports whether a stage declares the given model variant.
func (r *Registry) HasModel(key models.StageKey, model string) bool {
	d, ok := r.defs[key]
	if !ok || d.Models == nil {
		return false
	}
	_, ok = d.Models[model]
	return ok
}

// Visible returns the public stage catalog: disabled stages and stages
// whose required API key is absent from the environment are filtered at
// enumeration time.
func (r *Registry) Visible() map[models.StageKey]models.StageInfo {
	out := make(map[models.StageKey]models.StageInfo, len(r.order))
	for _, key := range r.order {
		d := r.defs[key]
		if d.Disabled {
			continue
		}
		if d.RequiresAPIKey != "" && os.Getenv(d.RequiresAPIKey) == "" {
			continue
		}
		info := models.StageInfo{
			Name:         d.Name,
			Manual:       d.Manual,
			DefaultModel: d.DefaultModel,
		}
		if len(d.Models) > 0 {
			info.Models = make(map[string]models.ModelInfo, len(d.Models))
			for k, v := range d.Models {
				info.Models[k] = v
			}
		}
		out[key] = info
	}
	return out
}
