package ops

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/fmebridge/internal/command"
	"github.com/hpungsan/fmebridge/internal/config"
	"github.com/hpungsan/fmebridge/internal/dataset"
	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/settings"
	"github.com/hpungsan/fmebridge/internal/workspace"
)

// InspectInput contains parameters for the Inspect operation.
type InspectInput struct {
	Path string
}

// InspectOutput contains the parsed workspace plus any compatibility warning.
type InspectOutput struct {
	workspace.Metadata
	Warning string `json:"warning,omitempty"`
}

// Inspect parses a workspace file and checks it for the required parameters.
func Inspect(cfg *config.Config, input InspectInput) (*InspectOutput, error) {
	path := strings.Trim(strings.TrimSpace(input.Path), `"`)
	if path == "" {
		return nil, errors.NewInvalidRequest("workspace path is required")
	}

	meta, err := workspace.Load(path, cfg.RequiredParameters)
	if err != nil {
		return nil, err
	}

	return &InspectOutput{
		Metadata: *meta,
		Warning:  compatibilityWarning(cfg, meta),
	}, nil
}

// compatibilityWarning is empty when the workspace is compatible or checks are off.
func compatibilityWarning(cfg *config.Config, meta *workspace.Metadata) string {
	if !cfg.CompatibilityChecked() || meta.Compatibility.Compatible {
		return ""
	}
	return meta.Compatibility.Message
}

// BuildCommandInput contains parameters for the BuildCommand operation.
type BuildCommandInput struct {
	Workspace  string
	Executable string          // optional, default: the saved executable
	Params     []command.Param // overrides applied on top of the workspace defaults
	SourcePath string          // optional, default: generated in TempDir
	DestPath   string          // optional, default: generated in TempDir
	TempDir    string
}

// BuildCommandOutput contains the result of the BuildCommand operation.
type BuildCommandOutput struct {
	Command    string          `json:"command"`
	Ready      bool            `json:"ready"`
	Missing    []string        `json:"missing,omitempty"`
	Executable string          `json:"executable"`
	Params     []command.Param `json:"params"`
	SourcePath string          `json:"source_path"`
	DestPath   string          `json:"dest_path"`
	Warning    string          `json:"warning,omitempty"`
}

// BuildCommand assembles the command line for a workspace without running it.
// A missing executable or workspace is not an error: Ready is false and
// Missing names what is absent.
func BuildCommand(cfg *config.Config, set *settings.Settings, input BuildCommandInput) (*BuildCommandOutput, error) {
	exe := strings.TrimSpace(input.Executable)
	if exe == "" && set != nil {
		saved, valid, err := set.Executable()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if valid {
			exe = saved
		}
	}

	output := &BuildCommandOutput{
		Executable: exe,
		Params:     []command.Param{},
		SourcePath: input.SourcePath,
		DestPath:   input.DestPath,
	}

	if strings.TrimSpace(input.Workspace) != "" {
		meta, err := workspace.Load(strings.Trim(strings.TrimSpace(input.Workspace), `"`), cfg.RequiredParameters)
		if err != nil {
			return nil, err
		}
		output.Warning = compatibilityWarning(cfg, meta)
		output.Params = defaultParams(meta)
	}
	for _, p := range input.Params {
		params, err := setParam(output.Params, p.Name, p.Value)
		if err != nil {
			return nil, err
		}
		output.Params = params
	}

	if (output.SourcePath == "" || output.DestPath == "") && input.TempDir != "" {
		pair, err := dataset.NewFilenamePair(input.TempDir, time.Now())
		if err != nil {
			return nil, errors.Wrap(err)
		}
		if output.SourcePath == "" {
			output.SourcePath = pair.Input
		}
		if output.DestPath == "" {
			output.DestPath = pair.Output
		}
	}

	output.Command, output.Ready = command.Build(command.Spec{
		Executable:   exe,
		Workspace:    input.Workspace,
		Params:       output.Params,
		SourceFormat: workspace.FormatGeoJSON,
		SourcePath:   output.SourcePath,
		DestFormat:   workspace.FormatGeoJSON,
		DestPath:     output.DestPath,
	})
	if !output.Ready {
		output.Missing = missingInputs(exe, input.Workspace)
	}
	return output, nil
}

// missingInputs names the empty inputs that keep a command from being built.
func missingInputs(exe, fmw string) []string {
	var missing []string
	if strings.Trim(strings.TrimSpace(exe), `"`) == "" {
		missing = append(missing, "executable")
	}
	if strings.Trim(strings.TrimSpace(fmw), `"`) == "" {
		missing = append(missing, "workspace")
	}
	return missing
}

// defaultParams fills the parameter table from the workspace declarations.
func defaultParams(meta *workspace.Metadata) []command.Param {
	params := make([]command.Param, 0, len(meta.Parameters))
	for _, p := range meta.Parameters {
		params = append(params, command.Param{Name: p.Name, Value: p.Default})
	}
	return params
}

// setParam updates the row whose name matches, ignoring the required marker.
// It returns a new slice; the input is not modified.
func setParam(params []command.Param, name, value string) ([]command.Param, error) {
	key := workspace.StripMarker(strings.TrimSpace(name))
	if key == "" {
		return nil, errors.NewInvalidRequest("parameter name is required")
	}

	out := append([]command.Param(nil), params...)
	for i := range out {
		if workspace.StripMarker(out[i].Name) == key {
			out[i].Value = value
			return out, nil
		}
	}
	return nil, errors.NewNotFound("parameter", key)
}

// ParseParam splits a "name=value" flag.
func ParseParam(s string) (command.Param, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return command.Param{}, errors.NewInvalidRequest(fmt.Sprintf("invalid parameter %q, expected name=value", s))
	}
	return command.Param{Name: strings.TrimSpace(name), Value: value}, nil
}
