package tools

import (
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
	"github.com/agentsmithy/agentsmithy/internal/tools/exec"
	"github.com/agentsmithy/agentsmithy/internal/tools/files"
	"github.com/agentsmithy/agentsmithy/internal/tools/websearch"
)

// Dependencies bundles everything Build needs to construct the 11
// wire-contract tools for one project workdir.
type Dependencies struct {
	Workspace       string
	WebSearch       *websearch.Config
	WebFetch        *websearch.FetchConfig
	DialogTitler    DialogTitler
	TitleSummarizer TitleSummarizer
}

// Build constructs a toolexec.Registry with all 11 wire-contract tools
// registered under their wire-contract names.
func Build(deps Dependencies) (*toolexec.Registry, error) {
	reg := toolexec.NewRegistry()

	fileCfg := files.Config{Workspace: deps.Workspace}
	reg.Register(newReadFileTool(files.NewReadTool(fileCfg)))
	reg.Register(newWriteToFileTool(files.NewWriteTool(fileCfg)))
	reg.Register(newReplaceInFileTool(files.NewEditTool(fileCfg)))
	reg.Register(newDeleteFileTool(deps.Workspace))

	listTool, err := newListFilesTool(deps.Workspace)
	if err != nil {
		return nil, err
	}
	reg.Register(listTool)

	searchTool, err := newSearchFilesTool(deps.Workspace)
	if err != nil {
		return nil, err
	}
	reg.Register(searchTool)

	manager := exec.NewManager(deps.Workspace)
	reg.Register(newRunCommandTool(manager))

	webSearchCfg := deps.WebSearch
	if webSearchCfg == nil {
		webSearchCfg = &websearch.Config{}
	}
	reg.Register(newWebSearchTool(websearch.NewWebSearchTool(webSearchCfg)))
	reg.Register(newWebFetchTool(websearch.NewWebFetchTool(deps.WebFetch)))

	reg.Register(newGetToolResultTool())
	reg.Register(newGenerateDialogTitleTool(deps.TitleSummarizer, deps.DialogTitler))

	return reg, nil
}
