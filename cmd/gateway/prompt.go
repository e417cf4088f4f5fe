package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
	"github.com/tjfontaine/toolcall-gateway/internal/toolcall"
)

func newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt TOOLS.json",
		Short: "Print the system prompt injected for a list of OpenAI tools",
		Args:  cobra.ExactArgs(1),
		RunE:  runPrompt,
	}
	cmd.Flags().String("tool-choice", "auto", `tool_choice: auto, none, required or a tool name`)
	return cmd
}

func runPrompt(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var tools []openai.Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	// The template comes from the config when one is readable.
	template := ""
	if cfg, err := config.Load(configPath(cmd)); err == nil {
		template = cfg.Features.PromptTemplate
	}

	choice, _ := cmd.Flags().GetString("tool-choice")
	raw, err := toolChoiceJSON(choice)
	if err != nil {
		return err
	}

	trigger := toolcall.NewTriggerSignal()
	prompt := toolcall.BuildPrompt(toolcall.ToolsFromOpenAI(tools), trigger, template)
	fmt.Fprint(cmd.OutOrStdout(), prompt+toolcall.ChoiceInstruction(raw)+"\n")
	return nil
}

func toolChoiceJSON(choice string) (json.RawMessage, error) {
	switch choice {
	case "auto", "none", "required":
		return json.Marshal(choice)
	}
	return json.Marshal(map[string]any{
		"type":     "function",
		"function": map[string]string{"name": choice},
	})
}
