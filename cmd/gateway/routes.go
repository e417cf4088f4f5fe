package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
)

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show upstream services and the model route table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := loadSnapshot(cmd)
			if err != nil {
				return err
			}
			printRoutes(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func printRoutes(w io.Writer, snap *config.Snapshot) {
	header := color.New(color.FgBlue, color.Bold)
	name := color.New(color.FgGreen)
	dim := color.New(color.Faint)

	header.Fprintln(w, "Upstream services:")
	def := snap.Routes.Default()
	for _, svc := range snap.Routes.Services() {
		marker := " "
		if def != nil && svc.Name == def.Name {
			marker = "*"
		}
		inject := "inject"
		if !snap.InjectFor(svc) {
			inject = "native"
		}
		fmt.Fprintf(w, " %s %-16s %-10s p=%-3d %-7s %s\n",
			marker, name.Sprint(svc.Name), svc.Type, svc.Priority, inject, dim.Sprint(config.MaskKey(svc.APIKey)))
	}

	fmt.Fprintln(w)
	header.Fprintln(w, "Routes:")
	for _, route := range snap.Routes.Routes() {
		cands := make([]string, 0, len(route.Candidates))
		for _, c := range route.Candidates {
			cands = append(cands, c.String())
		}
		fmt.Fprintf(w, "  %-32s -> %s\n", route.Key, strings.Join(cands, ", "))
	}

	if aliases := snap.Routes.Aliases(); len(aliases) > 0 {
		fmt.Fprintln(w)
		header.Fprintln(w, "Aliases:")
		for _, alias := range aliases {
			fmt.Fprintf(w, "  %s\n", alias)
		}
	}
}
