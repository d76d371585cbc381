package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	var split string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the domain classes and the detector classes they map to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.loadCatalog()
			if err != nil {
				return err
			}

			type entry struct {
				name  string
				split string
			}
			var entries []entry
			mode := strings.ToLower(strings.TrimSpace(split))
			switch mode {
			case "all", "train", "test":
			default:
				return fmt.Errorf("unknown split %q (want all, train, or test)", split)
			}
			if mode != "test" {
				for _, name := range cat.Train() {
					entries = append(entries, entry{name: name, split: "train"})
				}
			}
			if mode != "train" {
				for _, name := range cat.Test() {
					entries = append(entries, entry{name: name, split: "test"})
				}
			}

			title := cases.Title(language.English)
			rows := make([][]string, 0, len(entries))
			unresolved := 0
			for _, e := range entries {
				domainIdx, _ := cat.DomainIndex(e.name)
				detIdx, ok := cat.DetectorIndex(e.name)
				detector, index := "-", "-"
				if ok {
					detector = cat.DetectorName(e.name)
					index = strconv.Itoa(detIdx)
				} else {
					unresolved++
				}
				rows = append(rows, []string{strconv.Itoa(domainIdx), title.String(e.name), e.split, detector, index})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tableSpec{
				title:   fmt.Sprintf("%d domain classes, %d detector classes", len(cat.DomainClasses()), cat.DetectorSize()),
				headers: []string{"#", "Class", "Split", "Detector Class", "Detector #"},
				aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
			}.render(rows))
			if unresolved > 0 {
				fmt.Fprintf(out, "%d class(es) have no detector class; add aliases in [catalog.aliases]\n", unresolved)
			}
			if err := cat.Validate(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&split, "split", "all", "Which classes to list: all, train, or test")
	return cmd
}
