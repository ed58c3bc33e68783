package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/loupe/cli/render"
	"github.com/pithecene-io/loupe/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version" yaml:"version"`
	ContractVersion string `json:"contract_version" yaml:"contract_version"`
	Commit          string `json:"commit" yaml:"commit"`
}

// Rows implements render.Tabular.
func (v VersionResponse) Rows() []render.Row {
	return []render.Row{
		{Label: "version", Value: v.Version},
		{Label: "contract_version", Value: v.ContractVersion},
		{Label: "commit", Value: v.Commit},
	}
}

// VersionCommand returns the version command.
// It must not contact the backend.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{FormatFlag, NoColorFlag},
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c, c.App.Writer)
		if err != nil {
			return err
		}

		return r.Render(VersionResponse{
			Version:         types.Version,
			ContractVersion: types.ContractVersion,
			Commit:          commit,
		})
	}
}
